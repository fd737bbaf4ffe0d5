package domain

import (
	es "github.com/bennyboer/kicherkrabbe-sub008/internal/es/domain"
)

const (
	CommandSend   es.CommandName = "SEND"
	CommandDelete es.CommandName = "DELETE"
)

// SendCmd creates an inquiry from a sender mail, subject and message.
type SendCmd struct {
	Mail    string
	Subject string
	Message string
}

func (c SendCmd) CommandName() es.CommandName { return CommandSend }

// DeleteCmd deletes an inquiry.
type DeleteCmd struct{}

func (c DeleteCmd) CommandName() es.CommandName { return CommandDelete }
