package ft300

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"time"
)

const (
	// StreamRegister is the holding register that switches streaming on.
	StreamRegister = 410
	// StreamEnableValue is written to StreamRegister to start streaming.
	StreamEnableValue = 0x0200

	funcWriteMultiple = 0x10
	writeResponseLen  = 8 // addr + fc + reg(2) + count(2) + crc(2)
	stopPacketLen     = 50
	stopByte          = 0xFF

	// DefaultSettleDelay is how long the sensor gets after each control write.
	DefaultSettleDelay = 100 * time.Millisecond
)

// Controller drives the sensor's control channel: the raw stop burst and the
// Modbus RTU register write that starts streaming. Each call opens and closes
// its own handle.
type Controller struct {
	opener  Opener
	address byte
	settle  time.Duration
	logger  *log.Logger
	sleep   func(time.Duration)
}

// NewController creates a Controller talking to the sensor at address.
func NewController(opener Opener, address byte, settle time.Duration, logger *log.Logger) *Controller {
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		opener:  opener,
		address: address,
		settle:  settle,
		logger:  logger,
		sleep:   time.Sleep,
	}
}

// StopStream sends 50 bytes of 0xFF, which ends any active stream.
func (c *Controller) StopStream() error {
	c.logger.Printf("[ft300] stopping data stream")
	src, err := c.opener.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	if _, err := src.Write(bytes.Repeat([]byte{stopByte}, stopPacketLen)); err != nil {
		return fmt.Errorf("ft300: write stop packet: %w", err)
	}
	c.sleep(c.settle)
	return nil
}

// EnableStream writes StreamEnableValue to StreamRegister and checks the
// sensor's echo.
func (c *Controller) EnableStream() error {
	c.logger.Printf("[ft300] starting data stream (slave %d, register %d)", c.address, StreamRegister)
	if err := c.writeRegister(StreamRegister, StreamEnableValue); err != nil {
		return err
	}
	c.sleep(c.settle)
	return nil
}

func (c *Controller) writeRegister(reg, value uint16) error {
	src, err := c.opener.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	req := BuildWriteRegister(c.address, reg, value)
	if _, err := src.Write(req); err != nil {
		return fmt.Errorf("%w: write: %v", ErrModbus, err)
	}

	resp := make([]byte, writeResponseLen)
	n, err := io.ReadFull(src, resp[:5])
	if err != nil {
		return fmt.Errorf("%w: response (%d bytes): %v", ErrModbus, n, err)
	}
	if resp[1]&0x80 != 0 {
		return fmt.Errorf("%w: exception code 0x%02X", ErrModbus, resp[2])
	}
	if _, err := io.ReadFull(src, resp[5:]); err != nil {
		return fmt.Errorf("%w: response: %v", ErrModbus, err)
	}
	return checkWriteResponse(req, resp)
}

// BuildWriteRegister builds a Modbus RTU Write Multiple Registers request
// for a single register.
func BuildWriteRegister(address byte, reg, value uint16) []byte {
	req := []byte{address, funcWriteMultiple, 0, 0, 0, 1, 2, 0, 0}
	binary.BigEndian.PutUint16(req[2:], reg)
	binary.BigEndian.PutUint16(req[7:], value)
	return binary.LittleEndian.AppendUint16(req, Checksum(req))
}

// checkWriteResponse verifies that resp echoes the address, function,
// register and count of req and carries a valid CRC.
func checkWriteResponse(req, resp []byte) error {
	if len(resp) != writeResponseLen {
		return fmt.Errorf("%w: response length %d", ErrModbus, len(resp))
	}
	if got := binary.LittleEndian.Uint16(resp[6:]); got != Checksum(resp[:6]) {
		return fmt.Errorf("%w: response % X: %w", ErrModbus, resp, ErrCRC)
	}
	if !bytes.Equal(resp[:6], req[:6]) {
		return fmt.Errorf("%w: unexpected response % X", ErrModbus, resp)
	}
	return nil
}
