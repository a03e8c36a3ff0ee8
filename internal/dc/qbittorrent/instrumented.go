package qbittorrent

import (
	"context"

	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/telemetry"
	"github.com/Ivan-Kuzmichev/tg-qbt-bot/internal/transfer"
)

const clientType = "qbittorrent"

// InstrumentedClient wraps a transfer.Client with telemetry.
type InstrumentedClient struct {
	client    transfer.Client
	telemetry *telemetry.Telemetry
}

// NewInstrumentedClient creates a new instrumented daemon client.
func NewInstrumentedClient(client transfer.Client, tel *telemetry.Telemetry) *InstrumentedClient {
	return &InstrumentedClient{
		client:    client,
		telemetry: tel,
	}
}

var _ transfer.Client = (*InstrumentedClient)(nil)

func (c *InstrumentedClient) Authenticate(ctx context.Context) error {
	return c.telemetry.InstrumentClientOperation(ctx, clientType, "authenticate", func(ctx context.Context) error {
		return c.client.Authenticate(ctx)
	})
}

func (c *InstrumentedClient) Version(ctx context.Context) (string, error) {
	var result string

	err := c.telemetry.InstrumentClientOperation(ctx, clientType, "version", func(ctx context.Context) error {
		var err error
		result, err = c.client.Version(ctx)

		return err
	})
	if err != nil {
		return "", err
	}

	return result, nil
}

func (c *InstrumentedClient) Transfers(ctx context.Context, hashes ...string) ([]*transfer.Transfer, error) {
	var result []*transfer.Transfer

	err := c.telemetry.InstrumentClientOperation(ctx, clientType, "list_transfers", func(ctx context.Context) error {
		var err error
		result, err = c.client.Transfers(ctx, hashes...)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (c *InstrumentedClient) AddTransferByURL(ctx context.Context, url string, opts transfer.AddOptions) error {
	return c.telemetry.InstrumentClientOperation(ctx, clientType, "add_transfer", func(ctx context.Context) error {
		return c.client.AddTransferByURL(ctx, url, opts)
	})
}

func (c *InstrumentedClient) AddTransferByBytes(ctx context.Context, content []byte, filename string, opts transfer.AddOptions) error {
	return c.telemetry.InstrumentClientOperation(ctx, clientType, "add_transfer_by_bytes", func(ctx context.Context) error {
		return c.client.AddTransferByBytes(ctx, content, filename, opts)
	})
}

func (c *InstrumentedClient) StopTransfers(ctx context.Context, hashes ...string) error {
	return c.telemetry.InstrumentClientOperation(ctx, clientType, "stop_transfers", func(ctx context.Context) error {
		return c.client.StopTransfers(ctx, hashes...)
	})
}

func (c *InstrumentedClient) StartTransfers(ctx context.Context, hashes ...string) error {
	return c.telemetry.InstrumentClientOperation(ctx, clientType, "start_transfers", func(ctx context.Context) error {
		return c.client.StartTransfers(ctx, hashes...)
	})
}

func (c *InstrumentedClient) RemoveTransfers(ctx context.Context, hashes []string, deleteFiles bool) error {
	return c.telemetry.InstrumentClientOperation(ctx, clientType, "remove_transfers", func(ctx context.Context) error {
		return c.client.RemoveTransfers(ctx, hashes, deleteFiles)
	})
}
