package abi

// Conversion identifies how raw file samples map to the doubles the module
// hands back. The case is inferred from the data-type discriminant and bit
// width in a decoded property record.
type Conversion string

const (
	ConvPCM8    Conversion = "pcm8"
	ConvPCM16   Conversion = "pcm16"
	ConvPCM24   Conversion = "pcm24"
	ConvPCM32   Conversion = "pcm32"
	ConvFloat32 Conversion = "float32"
	ConvFloat64 Conversion = "float64"
	ConvText    Conversion = "text"
)

// Data-type discriminants observed in property records. Integer PCM and
// IEEE float match the WAVE format tags the files carry; text covers the
// ASCII export formats.
const (
	DataTypeIntPCM int32 = 1
	DataTypeFloat  int32 = 3
	DataTypeText   int32 = 5
)

// Conversions returns all documented cases.
func Conversions() []Conversion {
	return []Conversion{
		ConvPCM8, ConvPCM16, ConvPCM24, ConvPCM32,
		ConvFloat32, ConvFloat64, ConvText,
	}
}

// ConversionFor maps a (dataType, bitsPerSample) pair to its conversion
// case. ok is false for combinations outside the documented set, such as
// float at 16 bits or a discriminant no record has carried.
func ConversionFor(dataType, bits int32) (Conversion, bool) {
	switch dataType {
	case DataTypeIntPCM:
		switch bits {
		case 8:
			return ConvPCM8, true
		case 16:
			return ConvPCM16, true
		case 24:
			return ConvPCM24, true
		case 32:
			return ConvPCM32, true
		}
	case DataTypeFloat:
		switch bits {
		case 32:
			return ConvFloat32, true
		case 64:
			return ConvFloat64, true
		}
	case DataTypeText:
		return ConvText, true
	}
	return "", false
}
