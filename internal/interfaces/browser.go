package interfaces

import "context"

// Browser is the narrow slice of browser automation the login flow needs.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	CurrentURL(ctx context.Context) (string, error)
	Quit() error
}

// BrowserLauncher starts a fresh, isolated browser context.
type BrowserLauncher interface {
	Launch(ctx context.Context) (Browser, error)
}
