package poker

import "errors"

var ErrRoomNotFound = errors.New("room not found")
var ErrUnauthorized = errors.New("only the room owner can do that")
var ErrInvalidVote = errors.New("invalid vote")
var ErrNotInRoom = errors.New("not in a room")
var ErrAlreadyInRoom = errors.New("already in a room")
var ErrUnknownMember = errors.New("unknown member")
var ErrUnsupportedCommand = errors.New("unsupported command")
