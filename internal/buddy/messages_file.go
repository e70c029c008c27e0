package buddy

import (
	"bytes"
	"fmt"
	"strconv"
)

type TransferKind string

const (
	TransferName          TransferKind = "file_name"
	TransferData          TransferKind = "file_data"
	TransferDataOK        TransferKind = "file_data_ok"
	TransferDataError     TransferKind = "file_data_error"
	TransferStopSending   TransferKind = "file_stop_sending"
	TransferStopReceiving TransferKind = "file_stop_receiving"
)

// Transfer is one file-transfer notification. Fields not carried by Kind
// are zero. The transfer engine itself lives above this package.
type Transfer struct {
	Kind      TransferKind
	ID        string
	Name      string
	Size      int64
	BlockSize int64
	Start     int64
	Hash      string
	Data      []byte
}

func splitFields(blob []byte, n int, command string) ([][]byte, error) {
	fields := bytes.SplitN(blob, []byte{' '}, n)
	if len(fields) != n {
		return nil, fmt.Errorf("%s: want %d fields, got %d", command, n, len(fields))
	}
	for i := 0; i < n-1; i++ {
		if len(fields[i]) == 0 {
			return nil, fmt.Errorf("%s: empty field %d", command, i)
		}
	}
	return fields, nil
}

func parseOffset(raw []byte, command, field string) (int64, error) {
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s: bad %s %q", command, field, raw)
	}
	return v, nil
}

func notifyTransfer(m *base, command string, ev Transfer) error {
	if err := m.requireBuddy(command); err != nil {
		return err
	}
	m.c.list.observer.TransferEvent(m.b.address, ev)
	return nil
}

// FileName announces a transfer: id, total size, block size, file name.
type FileName struct {
	base
	ID        string
	Size      int64
	BlockSize int64
	Name      string
}

func (m *FileName) Command() string { return string(TransferName) }

func (m *FileName) Parse(blob []byte) error {
	f, err := splitFields(blob, 4, m.Command())
	if err != nil {
		return err
	}
	if m.Size, err = parseOffset(f[1], m.Command(), "size"); err != nil {
		return err
	}
	if m.BlockSize, err = parseOffset(f[2], m.Command(), "block size"); err != nil {
		return err
	}
	m.ID = string(f[0])
	m.Name = string(f[3])
	return nil
}

func (m *FileName) Blob() []byte {
	return []byte(fmt.Sprintf("%s %d %d %s", m.ID, m.Size, m.BlockSize, m.Name))
}

func (m *FileName) Execute() error {
	return notifyTransfer(&m.base, m.Command(), Transfer{
		Kind:      TransferName,
		ID:        m.ID,
		Name:      m.Name,
		Size:      m.Size,
		BlockSize: m.BlockSize,
	})
}

// FileData carries one block: id, start offset, block hash, raw data.
type FileData struct {
	base
	ID    string
	Start int64
	Hash  string
	Data  []byte
}

func (m *FileData) Command() string { return string(TransferData) }

func (m *FileData) Parse(blob []byte) error {
	f, err := splitFields(blob, 4, m.Command())
	if err != nil {
		return err
	}
	if m.Start, err = parseOffset(f[1], m.Command(), "start"); err != nil {
		return err
	}
	m.ID = string(f[0])
	m.Hash = string(f[2])
	m.Data = append([]byte(nil), f[3]...)
	return nil
}

func (m *FileData) Blob() []byte {
	head := fmt.Sprintf("%s %d %s ", m.ID, m.Start, m.Hash)
	return append([]byte(head), m.Data...)
}

func (m *FileData) Execute() error {
	return notifyTransfer(&m.base, m.Command(), Transfer{
		Kind:  TransferData,
		ID:    m.ID,
		Start: m.Start,
		Hash:  m.Hash,
		Data:  m.Data,
	})
}

// blockAck is the shared shape of file_data_ok and file_data_error.
type blockAck struct {
	base
	ID    string
	Start int64
}

func (m *blockAck) parse(blob []byte, command string) error {
	f, err := splitFields(blob, 2, command)
	if err != nil {
		return err
	}
	if len(f[1]) == 0 {
		return fmt.Errorf("%s: empty start", command)
	}
	if m.Start, err = parseOffset(f[1], command, "start"); err != nil {
		return err
	}
	m.ID = string(f[0])
	return nil
}

func (m *blockAck) blob() []byte {
	return []byte(m.ID + " " + strconv.FormatInt(m.Start, 10))
}

type FileDataOK struct {
	blockAck
}

func (m *FileDataOK) Command() string { return string(TransferDataOK) }

func (m *FileDataOK) Parse(blob []byte) error {
	return m.parse(blob, m.Command())
}

func (m *FileDataOK) Blob() []byte {
	return m.blob()
}

func (m *FileDataOK) Execute() error {
	return notifyTransfer(&m.base, m.Command(), Transfer{Kind: TransferDataOK, ID: m.ID, Start: m.Start})
}

type FileDataError struct {
	blockAck
}

func (m *FileDataError) Command() string { return string(TransferDataError) }

func (m *FileDataError) Parse(blob []byte) error {
	return m.parse(blob, m.Command())
}

func (m *FileDataError) Blob() []byte {
	return m.blob()
}

func (m *FileDataError) Execute() error {
	return notifyTransfer(&m.base, m.Command(), Transfer{Kind: TransferDataError, ID: m.ID, Start: m.Start})
}

// transferStop is the shared shape of the two stop commands.
type transferStop struct {
	base
	ID string
}

func (m *transferStop) parse(blob []byte, command string) error {
	if len(blob) == 0 {
		return fmt.Errorf("%s: empty id", command)
	}
	m.ID = string(blob)
	return nil
}

type FileStopSending struct {
	transferStop
}

func (m *FileStopSending) Command() string { return string(TransferStopSending) }

func (m *FileStopSending) Parse(blob []byte) error {
	return m.parse(blob, m.Command())
}

func (m *FileStopSending) Blob() []byte {
	return []byte(m.ID)
}

func (m *FileStopSending) Execute() error {
	return notifyTransfer(&m.base, m.Command(), Transfer{Kind: TransferStopSending, ID: m.ID})
}

type FileStopReceiving struct {
	transferStop
}

func (m *FileStopReceiving) Command() string { return string(TransferStopReceiving) }

func (m *FileStopReceiving) Parse(blob []byte) error {
	return m.parse(blob, m.Command())
}

func (m *FileStopReceiving) Blob() []byte {
	return []byte(m.ID)
}

func (m *FileStopReceiving) Execute() error {
	return notifyTransfer(&m.base, m.Command(), Transfer{Kind: TransferStopReceiving, ID: m.ID})
}
