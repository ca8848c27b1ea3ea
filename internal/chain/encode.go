package chain

import (
	"bytes"
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeInstruction produces the canonical byte encoding an instruction is
// signed over. Field order is fixed; the same instruction must encode to the
// same bytes on every node, so nothing here may rely on map iteration order.
func EncodeInstruction(inst Instruction) ([]byte, error) {
	if inst.Method == "" {
		return nil, errors.New("instruction method is required")
	}
	if inst.Program.IsZero() {
		return nil, errors.New("instruction program is required")
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	mapLen := 3
	if len(inst.Accounts) > 0 {
		mapLen++
	}
	if len(inst.Bumps) > 0 {
		mapLen++
	}
	if err := enc.EncodeMapLen(mapLen); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("program"); err != nil {
		return nil, err
	}
	if err := enc.EncodeBytes(inst.Program.Bytes()); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("method"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(inst.Method); err != nil {
		return nil, err
	}
	if err := enc.EncodeString("args"); err != nil {
		return nil, err
	}
	if err := enc.EncodeArrayLen(len(inst.Args)); err != nil {
		return nil, err
	}
	for _, arg := range inst.Args {
		if err := enc.EncodeUint64(arg); err != nil {
			return nil, err
		}
	}
	if len(inst.Accounts) > 0 {
		if err := enc.EncodeString("accounts"); err != nil {
			return nil, err
		}
		if err := enc.EncodeArrayLen(len(inst.Accounts)); err != nil {
			return nil, err
		}
		for _, acc := range inst.Accounts {
			if err := enc.EncodeBytes(acc.Bytes()); err != nil {
				return nil, err
			}
		}
	}
	if len(inst.Bumps) > 0 {
		if err := enc.EncodeString("bumps"); err != nil {
			return nil, err
		}
		if err := enc.EncodeArrayLen(len(inst.Bumps)); err != nil {
			return nil, err
		}
		for _, bump := range inst.Bumps {
			if err := enc.EncodeUint8(bump); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}
