package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/DoyleJ11/planning-poker/internal/poker"
)

var ErrMalformed = errors.New("malformed message")
var ErrUnknownType = errors.New("unknown message type")

// Decode parses one client frame. Unrecognized types yield ErrUnknownType,
// anything else that cannot be decoded yields ErrMalformed.
func Decode(data []byte) (Inbound, error) {
	var head struct {
		Type any `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	typ, ok := head.Type.(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing or non-string type", ErrMalformed)
	}

	var msg Inbound
	var err error
	switch MessageType(typ) {
	case TypeCreateRoom:
		msg, err = decodeAs[CreateRoom](data)
	case TypeJoinRoom:
		msg, err = decodeAs[JoinRoom](data)
	case TypeVote:
		msg, err = decodeAs[Vote](data)
	case TypeRevealVotes:
		msg = RevealVotes{}
	case TypeResetVotes:
		msg = ResetVotes{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, typ, err)
	}
	return msg, nil
}

func decodeAs[T Inbound](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// Encode serializes msg with its "type" field.
func Encode(msg Outbound) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	fields["type"] = json.RawMessage(strconv.Quote(string(msg.Type())))
	return json.Marshal(fields)
}

// ErrorFor maps a domain error onto the message reported to the client.
func ErrorFor(err error) Error {
	switch {
	case errors.Is(err, poker.ErrRoomNotFound):
		return Error{Message: "Room not found"}
	case errors.Is(err, poker.ErrUnauthorized):
		return Error{Message: "Only the room owner can reveal or reset votes"}
	case errors.Is(err, poker.ErrInvalidVote):
		return Error{Message: "Invalid vote for this room's sequence"}
	case errors.Is(err, poker.ErrNotInRoom):
		return Error{Message: "Create or join a room first"}
	case errors.Is(err, poker.ErrAlreadyInRoom):
		return Error{Message: "Already in a room"}
	case errors.Is(err, ErrMalformed):
		return Error{Message: "Malformed message"}
	default:
		return Error{Message: "Internal error"}
	}
}
