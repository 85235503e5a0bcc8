package ota

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/jangala-dev/inu/errcode"
)

// File is one record of an OTA archive: a relative filename and its
// contents, written verbatim to device storage on apply.
type File struct {
	Name string
	Data []byte
}

// ParseArchive decodes the binary archive format of spec.md §6:
// `u32 version | record*` where `record = u16 name_len | name (utf8) |
// u32 data_len | data`, all little-endian. wantVersion must equal the
// archive's declared version; a mismatch is the sole acceptance gate
// per spec.md §4.D (the SHA-256 digest computed by the caller is
// informational, logged per the Open Questions resolution in
// SPEC_FULL.md §4.D, and never changes acceptance).
func ParseArchive(data []byte, wantVersion int) ([]File, error) {
	r := bytes.NewReader(data)

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, &errcode.E{C: errcode.Malformed, Op: "ota.ParseArchive", Msg: "truncated header", Err: err}
	}
	if int(version) != wantVersion {
		return nil, &errcode.E{C: errcode.Malformed, Op: "ota.ParseArchive", Msg: "version mismatch"}
	}

	var files []File
	for {
		var nameLen uint16
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			if err == io.EOF {
				break
			}
			return nil, &errcode.E{C: errcode.Malformed, Op: "ota.ParseArchive", Msg: "truncated record header", Err: err}
		}
		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBuf); err != nil {
			return nil, &errcode.E{C: errcode.Malformed, Op: "ota.ParseArchive", Msg: "truncated filename", Err: err}
		}
		var dataLen uint32
		if err := binary.Read(r, binary.LittleEndian, &dataLen); err != nil {
			return nil, &errcode.E{C: errcode.Malformed, Op: "ota.ParseArchive", Msg: "truncated data length", Err: err}
		}
		dataBuf := make([]byte, dataLen)
		if _, err := io.ReadFull(r, dataBuf); err != nil {
			return nil, &errcode.E{C: errcode.Malformed, Op: "ota.ParseArchive", Msg: "truncated record data", Err: err}
		}
		files = append(files, File{Name: string(nameBuf), Data: dataBuf})
	}
	return files, nil
}

// encodeArchive is the inverse of ParseArchive; it only backs tests,
// which build fixture archives rather than decoding real ones.
func encodeArchive(version int, files []File) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint32(version))
	for _, f := range files {
		_ = binary.Write(&buf, binary.LittleEndian, uint16(len(f.Name)))
		buf.WriteString(f.Name)
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(f.Data)))
		buf.Write(f.Data)
	}
	return buf.Bytes()
}
