package setup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/njoerd114/coworkersync/internal/directory"
)

// previewTimeout bounds the connection check made by the wizard.
const previewTimeout = 15 * time.Second

// PreviewCoworkers checks the directory connection and token, then returns
// how many coworkers identity would mirror.
func PreviewCoworkers(ctx context.Context, directoryURL, token, identity string, logger *slog.Logger) (int, error) {
	client, err := directory.NewClient(directoryURL, token, previewTimeout, logger)
	if err != nil {
		return 0, err
	}
	if err := client.Ping(ctx); err != nil {
		return 0, err
	}
	contacts, err := client.Fetch(ctx, identity)
	if err != nil {
		return 0, fmt.Errorf("listing coworkers: %w", err)
	}
	return len(contacts), nil
}
