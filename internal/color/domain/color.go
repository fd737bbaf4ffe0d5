package domain

import (
	"errors"
	"fmt"
	"time"

	es "github.com/bennyboer/kicherkrabbe-sub008/internal/es/domain"
)

var (
	ErrNameMissing    = errors.New("color name must not be empty")
	ErrComponentRange = errors.New("color components must be within 0..255")
	ErrAlreadyCreated = errors.New("color is already created")
	ErrNotCreated     = errors.New("color does not exist yet")
	ErrAlreadyDeleted = errors.New("color is already deleted")
)

// Color is the folded state of one color aggregate.
type Color struct {
	Name      string
	Red       int64
	Green     int64
	Blue      int64
	CreatedAt time.Time
	DeletedAt *time.Time
}

func NewColor() *Color {
	return &Color{}
}

func (c *Color) HandleCommand(cmd es.Command, agent es.Agent) ([]es.Event, error) {
	switch cmd := cmd.(type) {
	case CreateCmd:
		if !c.CreatedAt.IsZero() {
			return nil, ErrAlreadyCreated
		}
		if err := validate(cmd.Name, cmd.Red, cmd.Green, cmd.Blue); err != nil {
			return nil, err
		}
		return []es.Event{CreatedEvent{Name: cmd.Name, Red: cmd.Red, Green: cmd.Green, Blue: cmd.Blue}}, nil
	case UpdateCmd:
		if err := c.mustBeAlive(); err != nil {
			return nil, err
		}
		if err := validate(cmd.Name, cmd.Red, cmd.Green, cmd.Blue); err != nil {
			return nil, err
		}
		return []es.Event{UpdatedEvent{Name: cmd.Name, Red: cmd.Red, Green: cmd.Green, Blue: cmd.Blue}}, nil
	case DeleteCmd:
		if err := c.mustBeAlive(); err != nil {
			return nil, err
		}
		return []es.Event{DeletedEvent{}}, nil
	default:
		return nil, fmt.Errorf("%w: %s", es.ErrUnknownCommand, cmd.CommandName())
	}
}

func (c *Color) ApplyEvent(event es.Event, metadata es.EventMetadata) error {
	switch event := event.(type) {
	case CreatedEvent:
		c.Name = event.Name
		c.Red = event.Red
		c.Green = event.Green
		c.Blue = event.Blue
		c.CreatedAt = metadata.OccurredAt
	case UpdatedEvent:
		c.Name = event.Name
		c.Red = event.Red
		c.Green = event.Green
		c.Blue = event.Blue
	case DeletedEvent:
		deletedAt := metadata.OccurredAt
		c.DeletedAt = &deletedAt
	default:
		return fmt.Errorf("%w: %s", es.ErrUnknownEvent, event.EventName())
	}
	return nil
}

func (c *Color) Snapshot() es.Document {
	snapshot := es.Document{
		"name":      c.Name,
		"red":       c.Red,
		"green":     c.Green,
		"blue":      c.Blue,
		"createdAt": c.CreatedAt,
	}
	if c.DeletedAt != nil {
		snapshot["deletedAt"] = *c.DeletedAt
	}
	return snapshot
}

func (c *Color) RestoreSnapshot(payload es.Document, metadata es.EventMetadata) error {
	c.Name = payload.String("name")
	c.Red = payload.Int64("red")
	c.Green = payload.Int64("green")
	c.Blue = payload.Int64("blue")
	c.CreatedAt = payload.Time("createdAt")
	c.DeletedAt = nil
	if payload.Has("deletedAt") {
		deletedAt := payload.Time("deletedAt")
		c.DeletedAt = &deletedAt
	}
	return nil
}

// AnonymizedSnapshot equals the regular snapshot. Colors carry no
// personal data.
func (c *Color) AnonymizedSnapshot() es.Document {
	return c.Snapshot()
}

func (c *Color) Removed() bool {
	return c.DeletedAt != nil
}

func (c *Color) mustBeAlive() error {
	if c.CreatedAt.IsZero() {
		return ErrNotCreated
	}
	if c.DeletedAt != nil {
		return ErrAlreadyDeleted
	}
	return nil
}

func validate(name string, red, green, blue int64) error {
	if name == "" {
		return ErrNameMissing
	}
	for _, component := range []int64{red, green, blue} {
		if component < 0 || component > 255 {
			return ErrComponentRange
		}
	}
	return nil
}

var _ es.State = (*Color)(nil)
