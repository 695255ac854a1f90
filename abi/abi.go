// Package abi records the recovered export surface of the Aud module: the
// 29 known entry points, the documented status codes, the handshake
// constants, and the sample conversion cases. Everything here was recovered
// from binary analysis of the original build; builds may export any subset
// of it, and packages consuming these tables must tolerate gaps.
package abi

// Entry names one exported entry point. Resolution is by symbol name at
// load time.
type Entry string

const (
	InitDll                Entry = "Aud_InitDll"
	GetInterfaceVersion    Entry = "Aud_GetInterfaceVersion"
	GetDllVersion          Entry = "Aud_GetDllVersion"
	OpenGetFile            Entry = "Aud_OpenGetFile"
	CloseGetFile           Entry = "Aud_CloseGetFile"
	GetNumberOfFiles       Entry = "Aud_GetNumberOfFiles"
	GetNumberOfChannels    Entry = "Aud_GetNumberOfChannels"
	FileExistsW            Entry = "Aud_FileExistsW"
	OpenPutFile            Entry = "Aud_OpenPutFile"
	ClosePutFile           Entry = "Aud_ClosePutFile"
	PutNumberOfChannels    Entry = "Aud_PutNumberOfChannels"
	MakeDirW               Entry = "Aud_MakeDirW"
	GetChannelDataDoubles  Entry = "Aud_GetChannelDataDoubles"
	GetChannelDataOriginal Entry = "Aud_GetChannelDataOriginal"
	PutChannelDataDoubles  Entry = "Aud_PutChannelDataDoubles"
	PutChannelDataOriginal Entry = "Aud_PutChannelDataOriginal"
	GetFileProperties      Entry = "Aud_GetFileProperties"
	GetChannelProperties   Entry = "Aud_GetChannelProperties"
	PutFileProperties      Entry = "Aud_PutFileProperties"
	PutChannelProperties   Entry = "Aud_PutChannelProperties"
	GetFileHeaderOriginal  Entry = "Aud_GetFileHeaderOriginal"
	PutFileHeaderOriginal  Entry = "Aud_PutFileHeaderOriginal"
	GetString              Entry = "Aud_GetString"
	PutString              Entry = "Aud_PutString"
	TextFileAOpenW         Entry = "Aud_TextFileAOpenW"
	TextFileAClose         Entry = "Aud_TextFileAClose"
	ReadLineAInFile        Entry = "Aud_ReadLineAInFile"
	GetLastWarnings        Entry = "Aud_GetLastWarnings"
	GetErrDescription      Entry = "Aud_GetErrDescription"
)

// entries is the canonical surface in export-table order.
var entries = []Entry{
	InitDll,
	GetInterfaceVersion,
	GetDllVersion,
	OpenGetFile,
	CloseGetFile,
	GetNumberOfFiles,
	GetNumberOfChannels,
	FileExistsW,
	OpenPutFile,
	ClosePutFile,
	PutNumberOfChannels,
	MakeDirW,
	GetChannelDataDoubles,
	GetChannelDataOriginal,
	PutChannelDataDoubles,
	PutChannelDataOriginal,
	GetFileProperties,
	GetChannelProperties,
	PutFileProperties,
	PutChannelProperties,
	GetFileHeaderOriginal,
	PutFileHeaderOriginal,
	GetString,
	PutString,
	TextFileAOpenW,
	TextFileAClose,
	ReadLineAInFile,
	GetLastWarnings,
	GetErrDescription,
}

// Entries returns the full recovered surface in export-table order. The
// returned slice is a copy.
func Entries() []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// EntryNames returns the surface as plain symbol names.
func EntryNames() []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e)
	}
	return out
}

// Known reports whether name is part of the recovered surface.
func Known(name string) bool {
	for _, e := range entries {
		if string(e) == name {
			return true
		}
	}
	return false
}

// Handshake constants recovered from the original build's init sequence.
//
// The original authenticates its host over three calls to Aud_InitDll:
// phase 1 returns a challenge, phase 2 expects the challenge XORed with
// InitChallengeXor and answers 0, phase 3 takes VerifyMagic and must
// answer VerifyExpected. The rebuilt clone also accepts a single-call
// init with SimpleInitMagic, answering a nonzero session value.
const (
	InitChallengeXor uint32 = 0x42754C2E // 1114983470, same word the simple init reuses
	VerifyMagic      uint32 = 1230000000
	VerifyXorKey     uint32 = 1826820242
	VerifyExpected   uint32 = VerifyMagic ^ VerifyXorKey // 632512274
	SimpleInitMagic  uint32 = 0x42754C2E                 // "BuL."
)

// PropertyRecordSize is the byte size of the file and channel property
// records exchanged through Aud_Get/PutFileProperties and
// Aud_Get/PutChannelProperties.
const PropertyRecordSize = 560

// OpenNotAttempted marks a result whose open call never ran on that build.
// It sits outside the module's status range.
const OpenNotAttempted int32 = -999
