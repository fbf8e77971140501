package metric

import (
	"fmt"
	"strings"
)

// DataType identifies the type of a metric value. The numeric values are the
// Sparkplug B wire ids.
type DataType uint32

const (
	Unknown  DataType = 0
	Int8     DataType = 1
	Int16    DataType = 2
	Int32    DataType = 3
	Int64    DataType = 4
	UInt8    DataType = 5
	UInt16   DataType = 6
	UInt32   DataType = 7
	UInt64   DataType = 8
	Float    DataType = 9
	Double   DataType = 10
	Boolean  DataType = 11
	String   DataType = 12
	DateTime DataType = 13
	Text     DataType = 14
	UUID     DataType = 15
	DataSet  DataType = 16
	Bytes    DataType = 17
	File     DataType = 18
	Template DataType = 19
)

var dataTypeNames = map[DataType]string{
	Unknown:  "Unknown",
	Int8:     "Int8",
	Int16:    "Int16",
	Int32:    "Int32",
	Int64:    "Int64",
	UInt8:    "UInt8",
	UInt16:   "UInt16",
	UInt32:   "UInt32",
	UInt64:   "UInt64",
	Float:    "Float",
	Double:   "Double",
	Boolean:  "Boolean",
	String:   "String",
	DateTime: "DateTime",
	Text:     "Text",
	UUID:     "UUID",
	DataSet:  "DataSet",
	Bytes:    "Bytes",
	File:     "File",
	Template: "Template",
}

func (d DataType) String() string {
	if name, ok := dataTypeNames[d]; ok {
		return name
	}

	return fmt.Sprintf("DataType(%d)", uint32(d))
}

// Valid returns true for every known data type except Unknown.
func (d DataType) Valid() bool {
	_, ok := dataTypeNames[d]
	return ok && d != Unknown
}

// ParseDataType resolves a data type from its name, ignoring case.
func ParseDataType(name string) (DataType, error) {
	for dt, n := range dataTypeNames {
		if dt != Unknown && strings.EqualFold(n, name) {
			return dt, nil
		}
	}

	return Unknown, fmt.Errorf("%q: %w", name, ErrUnknownDataType)
}
