// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package common contains functions used across multiple packages. For
// example, the CRC16 guarding 1-Wire memory transfers.
package common

// CRC16 calculates the 16-bit CRC of the byte slice parameter and returns the
// calculated value. This is the CRC16 of 1-Wire memory devices (polynomial
// x^16 + x^15 + x^2 + 1, bits processed LSB first, zero seed). Devices send
// it inverted, least significant byte first.
func CRC16(bytes []byte) uint16 {
	var crc uint16
	for _, val := range bytes {
		crc ^= uint16(val)
		for range 8 {
			if (crc & 0x0001) == 0 {
				crc >>= 1
			} else {
				crc = (crc >> 1) ^ 0xa001
			}
		}
	}
	return crc
}

// CheckCRC16 returns true if the two bytes following data, as sent by a
// 1-Wire memory device, are the inverted CRC16 of data.
func CheckCRC16(data []byte, crc [2]byte) bool {
	return ^CRC16(data) == uint16(crc[0])|uint16(crc[1])<<8
}
