package boottable

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"reflect"
)

// headerSize returns the byte size EFI_TABLE_HEADER.HeaderSize reports
// for table: the header itself plus one pointer-width slot per
// function-pointer field, matching how a real function table is laid
// out in memory (header followed by a contiguous array of function
// pointers).
func headerSize(table any) uint32 {
	v := reflect.ValueOf(table).Elem()
	size := uint32(binary.Size(Header{}))
	for i := 0; i < v.NumField(); i++ {
		if v.Field(i).Kind() == reflect.Func {
			size += 8
		}
	}
	return size
}

// tableCRC32 computes the CRC-32 (IEEE polynomial) over table's byte
// image with the header's CRC32 field zeroed, matching EFI_TABLE_HEADER's
// documented construction: the header's own CRC32 field never
// participates in its own checksum. The header's scalar fields are
// encoded in byte order; each function-pointer field contributes its
// Go function value's entry-point address, the closest stand-in this
// hosted core has for the literal function pointer a real
// EFI_BOOT_SERVICES/EFI_DXE_SERVICES table stores in that slot.
func tableCRC32(table any) uint32 {
	v := reflect.ValueOf(table).Elem()
	var buf bytes.Buffer

	header := v.FieldByName("Header").Interface().(Header)
	header.CRC32 = 0
	_ = binary.Write(&buf, binary.LittleEndian, header)

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if field.Kind() != reflect.Func {
			continue
		}
		var ptr uint64
		if !field.IsNil() {
			ptr = uint64(field.Pointer())
		}
		_ = binary.Write(&buf, binary.LittleEndian, ptr)
	}

	return crc32.ChecksumIEEE(buf.Bytes())
}
