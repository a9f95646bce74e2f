package vector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// vectors file layout: magic, version, count, dim (uint32 LE each) followed
// by count*dim float32 LE values in row order
var vecMagic = [4]byte{'T', 'S', 'V', 'X'}

const (
	vecVersion    = 1
	vecHeaderSize = 16
)

func writeVectors(path string, f *FlatIndex) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(file)
	header := []uint32{vecVersion, uint32(f.count), uint32(f.dim)}
	if _, err := w.Write(vecMagic[:]); err != nil {
		file.Close()
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		file.Close()
		return err
	}
	if len(f.data) > 0 {
		if err := binary.Write(w, binary.LittleEndian, f.data); err != nil {
			file.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// readVectors returns an error wrapping the cause; callers classify it
func readVectors(path string) (*FlatIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}

	r := bufio.NewReader(file)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if magic != vecMagic {
		return nil, fmt.Errorf("bad magic %q", magic[:])
	}
	var header [3]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if header[0] != vecVersion {
		return nil, fmt.Errorf("unsupported vectors version %d", header[0])
	}

	count, dim := int(header[1]), int(header[2])
	want := int64(vecHeaderSize) + 4*int64(count)*int64(dim)
	if info.Size() != want {
		return nil, fmt.Errorf("vectors file is %d bytes, header implies %d", info.Size(), want)
	}

	data := make([]float32, count*dim)
	if len(data) > 0 {
		if err := binary.Read(r, binary.LittleEndian, data); err != nil {
			return nil, fmt.Errorf("read vectors: %w", err)
		}
	}
	return NewFlatIndex(dim, count, data)
}
