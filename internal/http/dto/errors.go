package dto

import (
	"fmt"

	"github.com/edirooss/playout-server/internal/domain/channel"
)

func missingField(name string) error {
	return fmt.Errorf("%w: %s is required", channel.ErrParse, name)
}

func nullField(name string) error {
	return fmt.Errorf("%w: %s cannot be null", channel.ErrParse, name)
}
