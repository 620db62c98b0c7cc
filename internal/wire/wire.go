// Copyright 2025 EngFlow Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package wire holds small helpers to encode and decode protobuf wire format
// messages without generated code. Cached preprocessor states, dead block
// records and visited entries are stored in this format.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Encoder appends fields to a message buffer.
type Encoder struct {
	buf []byte
}

func (e *Encoder) Uint(num protowire.Number, value uint64) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.VarintType)
	e.buf = protowire.AppendVarint(e.buf, value)
}

// Int encodes signed values with zig-zag encoding.
func (e *Encoder) Int(num protowire.Number, value int) {
	e.Uint(num, protowire.EncodeZigZag(int64(value)))
}

func (e *Encoder) Bool(num protowire.Number, value bool) {
	e.Uint(num, protowire.EncodeBool(value))
}

func (e *Encoder) String(num protowire.Number, value string) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendString(e.buf, value)
}

func (e *Encoder) Bytes(num protowire.Number, value []byte) {
	e.buf = protowire.AppendTag(e.buf, num, protowire.BytesType)
	e.buf = protowire.AppendBytes(e.buf, value)
}

// Message encodes a nested message written by fn.
func (e *Encoder) Message(num protowire.Number, fn func(*Encoder)) {
	var nested Encoder
	fn(&nested)
	e.Bytes(num, nested.buf)
}

// Result returns the encoded message.
func (e *Encoder) Result() []byte {
	return e.buf
}

// Field is a decoded field of a message. Varint holds the value of varint
// fields, Data the payload of length-delimited ones.
type Field struct {
	Num    protowire.Number
	Type   protowire.Type
	Varint uint64
	Data   []byte
}

func (f Field) Int() int       { return int(protowire.DecodeZigZag(f.Varint)) }
func (f Field) Bool() bool     { return protowire.DecodeBool(f.Varint) }
func (f Field) String() string { return string(f.Data) }

// ReadFields calls fn for every varint or length-delimited field of msg in
// encoding order. Fields of other wire types are skipped.
func ReadFields(msg []byte, fn func(Field) error) error {
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return fmt.Errorf("invalid tag: %w", protowire.ParseError(n))
		}
		msg = msg[n:]

		field := Field{Num: num, Type: typ}
		switch typ {
		case protowire.VarintType:
			field.Varint, n = protowire.ConsumeVarint(msg)
		case protowire.BytesType:
			field.Data, n = protowire.ConsumeBytes(msg)
		default:
			n = protowire.ConsumeFieldValue(num, typ, msg)
			if n >= 0 {
				msg = msg[n:]
				continue
			}
		}
		if n < 0 {
			return fmt.Errorf("invalid field %d: %w", num, protowire.ParseError(n))
		}
		msg = msg[n:]
		if err := fn(field); err != nil {
			return err
		}
	}
	return nil
}
