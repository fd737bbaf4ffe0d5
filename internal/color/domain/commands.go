package domain

import (
	es "github.com/bennyboer/kicherkrabbe-sub008/internal/es/domain"
)

const (
	CommandCreate es.CommandName = "CREATE"
	CommandUpdate es.CommandName = "UPDATE"
	CommandDelete es.CommandName = "DELETE"
)

// CreateCmd creates a color with a name and RGB components.
type CreateCmd struct {
	Name  string
	Red   int64
	Green int64
	Blue  int64
}

func (c CreateCmd) CommandName() es.CommandName { return CommandCreate }

// UpdateCmd replaces the name and RGB components of an existing color.
type UpdateCmd struct {
	Name  string
	Red   int64
	Green int64
	Blue  int64
}

func (c UpdateCmd) CommandName() es.CommandName { return CommandUpdate }

// DeleteCmd deletes a color.
type DeleteCmd struct{}

func (c DeleteCmd) CommandName() es.CommandName { return CommandDelete }
