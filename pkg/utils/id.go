package utils

import "github.com/google/uuid"

// GenMsgID returns a new canonical message id.
func GenMsgID() string { return "msg-" + uuid.NewString() }

// GenCallID returns a new call record id.
func GenCallID() string { return "call-" + uuid.NewString() }

// GenTeamID returns a new team id.
func GenTeamID() string { return "team-" + uuid.NewString() }

// GenChannelID returns a new channel id.
func GenChannelID() string { return "chan-" + uuid.NewString() }

// GenConnID returns a new ephemeral connection id.
func GenConnID() string { return "conn-" + uuid.NewString() }
