/*
 * Copyright (C) 2020-2026, pmkol
 *
 * This file is part of ldns-x.
 *
 * ldns-x is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * ldns-x is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package dnsutils

import (
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/pmkol/ldns-x/pkg/dnsmsg"
	"github.com/pmkol/ldns-x/pkg/pool"
)

var (
	errZeroLenMsg = errors.New("zero length msg")
	errMsgTooLong = errors.New("msg is too long")
)

// ReadRawMsgFromTCP reads one length-prefixed message (RFC 1035 4.2.2).
// The returned buffer must be released.
func ReadRawMsgFromTCP(c io.Reader) (*pool.Buffer, int, error) {
	var h [2]byte
	n, err := io.ReadFull(c, h[:])
	if err != nil {
		return nil, n, err
	}
	length := int(binary.BigEndian.Uint16(h[:]))
	if length < dnsmsg.HeaderLen {
		return nil, n, errZeroLenMsg
	}

	buf := pool.GetBuf(length)
	m, err := io.ReadFull(c, buf.Bytes())
	n += m
	if err != nil {
		buf.Release()
		return nil, n, err
	}
	return buf, n, nil
}

// ReadMsgFromTCP reads and decodes one length-prefixed message.
func ReadMsgFromTCP(c io.Reader) (*dnsmsg.Msg, int, error) {
	buf, n, err := ReadRawMsgFromTCP(c)
	if err != nil {
		return nil, n, err
	}
	defer buf.Release()
	m, err := dnsmsg.Decode(buf.Bytes())
	return m, n, err
}

// WriteRawMsgToTCP writes b with its 2 byte length prefix in one write.
func WriteRawMsgToTCP(c io.Writer, b []byte) (int, error) {
	if len(b) > dnsmsg.MaxMsgSize {
		return 0, errMsgTooLong
	}
	buf := pool.GetBuf(len(b) + 2)
	defer buf.Release()
	wb := buf.Bytes()
	binary.BigEndian.PutUint16(wb, uint16(len(b)))
	copy(wb[2:], b)
	return c.Write(wb)
}

// PackBuffer encodes m into a pooled buffer. The buffer must be released.
func PackBuffer(m *dnsmsg.Msg) ([]byte, *pool.Buffer, error) {
	buf := pool.GetBuf(dnsmsg.MaxMsgSize)
	b, err := m.AppendEncode(buf.Bytes()[:0], true)
	if err != nil {
		buf.Release()
		return nil, nil, err
	}
	if len(b) > dnsmsg.MaxMsgSize {
		buf.Release()
		return nil, nil, errMsgTooLong
	}
	return b, buf, nil
}

func WriteMsgToTCP(c io.Writer, m *dnsmsg.Msg) (int, error) {
	b, buf, err := PackBuffer(m)
	if err != nil {
		return 0, err
	}
	defer buf.Release()
	return WriteRawMsgToTCP(c, b)
}

// WriteMsgToUDP writes m as one datagram to a connected socket.
func WriteMsgToUDP(c net.Conn, m *dnsmsg.Msg) (int, error) {
	b, buf, err := PackBuffer(m)
	if err != nil {
		return 0, err
	}
	defer buf.Release()
	return c.Write(b)
}
