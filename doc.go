// Copyright 2021 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bbio is a container for drivers that talk to buses through a Bus
// Pirate in binary bit-bang (BBIO) mode.
//
// The buspirate package drives the adapter itself and exposes its I²C and
// 1-Wire modes as periph.io buses. The eeprom package is the memory
// capability shared by the EEPROM implementations.
package bbio
