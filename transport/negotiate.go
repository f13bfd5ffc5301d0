package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	json "github.com/json-iterator/go"
)

/* negotiate protocol
magic:   1 byte
dataLen: 2 bytes
data:    > 0 bytes
*/

const negotiateMagic byte = 0x5F

type clientHello struct {
	Host    string `json:"host"`
	Secret  string `json:"secret"`
	Version byte   `json:"version"`
}

type serverHello struct {
	Host string `json:"host"`
	Id   string `json:"id"`
}

// ClientNegotiate announces the local host over a fresh connection and
// waits for the peer identity. Returns the peer host and the connection
// id assigned by the remote side.
func ClientNegotiate(c io.ReadWriter, host string, credential string) (peer string, id string, err error) {
	hello := &clientHello{
		Host:    host,
		Secret:  credential,
		Version: Version,
	}

	data, err := json.Marshal(hello)
	if err != nil {
		return
	}
	err = writeData(c, data)
	if err != nil {
		return
	}

	buffer, err := readData(c)
	if err != nil {
		return
	}

	var s = &serverHello{}
	err = json.Unmarshal(buffer, s)
	if err != nil {
		return
	}
	return s.Host, s.Id, nil
}

// ServerNegotiate answers a client hello with the local identity after
// an optional credential check.
func ServerNegotiate(c io.ReadWriter, host string, id string, validator func(credential string) error) (peer string, err error) {
	data, err := readData(c)
	if err != nil {
		return
	}

	var hello = &clientHello{}
	err = json.Unmarshal(data, hello)
	if err != nil {
		return
	}

	if validator != nil {
		if err = validator(hello.Secret); err != nil {
			err = fmt.Errorf("server negotiate credential validation failure, %w", err)
			return
		}
	}

	var s = &serverHello{
		Host: host,
		Id:   id,
	}

	data, err = json.Marshal(s)
	if err != nil {
		return
	}

	err = writeData(c, data)
	if err != nil {
		return
	}

	return hello.Host, nil
}

func writeData(c io.Writer, data []byte) error {
	buffer := make([]byte, 3+len(data))
	buffer[0] = negotiateMagic
	binary.BigEndian.PutUint16(buffer[1:], uint16(len(data)))
	copy(buffer[3:], data)
	_, err := c.Write(buffer)
	return err
}

func readData(c io.Reader) ([]byte, error) {
	buf := make([]byte, 3)
	_, err := io.ReadFull(c, buf)
	if err != nil {
		return nil, err
	}

	if buf[0] != negotiateMagic {
		return nil, errors.New("not negotiation package")
	}
	dataLen := int(binary.BigEndian.Uint16(buf[1:]))
	buf = make([]byte, dataLen)

	_, err = io.ReadFull(c, buf)
	if err != nil {
		return nil, err
	}
	return buf, nil
}
