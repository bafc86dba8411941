package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Binary envelope: an opt-in compact wire format for the two hot message
// kinds. Same semantics as the JSON envelopes, fewer bytes. Layout is fixed
// little-endian: 1-byte version, 1-byte kind, then fixed-width fields with
// uint16 counts before arrays.
const (
	binVersion = 1

	binKindInput       = 1
	binKindWorldUpdate = 2

	binInputFlagShoot = 0x01

	binHeaderLen     = 2
	binInputLen      = binHeaderLen + 4 + 4 + 1
	binEntityLen     = 8 + 4 + 4 + 4 + 4
	binProjectileLen = 8 + 8 + 4 + 4 + 4
)

var (
	errBinTooShort  = errors.New("binary message too short")
	errBinVersion   = errors.New("unsupported binary version")
	errBinKind      = errors.New("unexpected binary message kind")
	errBinTruncated = errors.New("binary message truncated")
	errBinTrailing  = errors.New("binary message has trailing bytes")
)

// EncodeBinaryInput packs an input message.
func EncodeBinaryInput(in InputPayload) []byte {
	buf := make([]byte, binInputLen)
	buf[0] = binVersion
	buf[1] = binKindInput
	binary.LittleEndian.PutUint32(buf[2:], math.Float32bits(float32(in.Thrust)))
	binary.LittleEndian.PutUint32(buf[6:], math.Float32bits(float32(in.Turn)))
	if in.Shoot {
		buf[10] |= binInputFlagShoot
	}
	return buf
}

// DecodeBinaryInput unpacks an input message.
func DecodeBinaryInput(buf []byte) (InputPayload, error) {
	if err := checkHeader(buf, binKindInput); err != nil {
		return InputPayload{}, err
	}
	if len(buf) != binInputLen {
		return InputPayload{}, fmt.Errorf("input message: %d bytes: %w", len(buf), errBinTruncated)
	}
	return InputPayload{
		Thrust: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[2:]))),
		Turn:   float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[6:]))),
		Shoot:  buf[10]&binInputFlagShoot != 0,
	}, nil
}

// EncodeBinaryWorldUpdate packs a snapshot.
func EncodeBinaryWorldUpdate(u WorldUpdatePayload) []byte {
	size := binHeaderLen + 8 + 2 + len(u.Entities)*binEntityLen + 2 + len(u.Projectiles)*binProjectileLen
	buf := make([]byte, size)
	buf[0] = binVersion
	buf[1] = binKindWorldUpdate
	off := binHeaderLen

	binary.LittleEndian.PutUint64(buf[off:], u.Tick)
	off += 8

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(u.Entities)))
	off += 2
	for _, e := range u.Entities {
		binary.LittleEndian.PutUint64(buf[off:], e.ID)
		binary.LittleEndian.PutUint32(buf[off+8:], math.Float32bits(float32(e.X)))
		binary.LittleEndian.PutUint32(buf[off+12:], math.Float32bits(float32(e.Y)))
		binary.LittleEndian.PutUint32(buf[off+16:], math.Float32bits(float32(e.Rot)))
		binary.LittleEndian.PutUint32(buf[off+20:], uint32(int32(e.HP)))
		off += binEntityLen
	}

	binary.LittleEndian.PutUint16(buf[off:], uint16(len(u.Projectiles)))
	off += 2
	for _, p := range u.Projectiles {
		binary.LittleEndian.PutUint64(buf[off:], p.ID)
		binary.LittleEndian.PutUint64(buf[off+8:], p.OwnerID)
		binary.LittleEndian.PutUint32(buf[off+16:], math.Float32bits(float32(p.X)))
		binary.LittleEndian.PutUint32(buf[off+20:], math.Float32bits(float32(p.Y)))
		binary.LittleEndian.PutUint32(buf[off+24:], math.Float32bits(float32(p.Rot)))
		off += binProjectileLen
	}
	return buf
}

// DecodeBinaryWorldUpdate unpacks a snapshot.
func DecodeBinaryWorldUpdate(buf []byte) (WorldUpdatePayload, error) {
	var u WorldUpdatePayload
	if err := checkHeader(buf, binKindWorldUpdate); err != nil {
		return u, err
	}
	off := binHeaderLen
	if len(buf) < off+8+2 {
		return u, errBinTruncated
	}
	u.Tick = binary.LittleEndian.Uint64(buf[off:])
	off += 8

	entityCount := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if len(buf) < off+entityCount*binEntityLen+2 {
		return u, errBinTruncated
	}
	u.Entities = make([]EntityState, 0, entityCount)
	for i := 0; i < entityCount; i++ {
		u.Entities = append(u.Entities, EntityState{
			ID:  binary.LittleEndian.Uint64(buf[off:]),
			X:   float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off+8:]))),
			Y:   float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off+12:]))),
			Rot: float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off+16:]))),
			HP:  int(int32(binary.LittleEndian.Uint32(buf[off+20:]))),
		})
		off += binEntityLen
	}

	projectileCount := int(binary.LittleEndian.Uint16(buf[off:]))
	off += 2
	if len(buf) < off+projectileCount*binProjectileLen {
		return u, errBinTruncated
	}
	u.Projectiles = make([]ProjectileState, 0, projectileCount)
	for i := 0; i < projectileCount; i++ {
		u.Projectiles = append(u.Projectiles, ProjectileState{
			ID:      binary.LittleEndian.Uint64(buf[off:]),
			OwnerID: binary.LittleEndian.Uint64(buf[off+8:]),
			X:       float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off+16:]))),
			Y:       float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off+20:]))),
			Rot:     float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off+24:]))),
		})
		off += binProjectileLen
	}
	if off != len(buf) {
		return u, errBinTrailing
	}
	return u, nil
}

func checkHeader(buf []byte, wantKind byte) error {
	if len(buf) < binHeaderLen {
		return errBinTooShort
	}
	if buf[0] != binVersion {
		return fmt.Errorf("version %d: %w", buf[0], errBinVersion)
	}
	if buf[1] != wantKind {
		return fmt.Errorf("kind %d: %w", buf[1], errBinKind)
	}
	return nil
}
