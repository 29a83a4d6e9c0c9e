package domain

import "errors"

var (
	ErrInvalidConfig          = errors.New("invalid_config")
	ErrLockFailed             = errors.New("account_lock_failed")
	ErrUnexpected             = errors.New("unexpected_error")
	ErrPluginAborted          = errors.New("invoice_plugin_aborted")
	ErrCatalogUnavailable     = errors.New("catalog_unavailable")
	ErrAccountNotFound        = errors.New("account_not_found")
	ErrSubscriptionNotFound   = errors.New("subscription_not_found")
	ErrInvoiceNotFound        = errors.New("invoice_not_found")
	ErrInvalidDryRunArguments = errors.New("invalid_dry_run_arguments")
	ErrInvalidPluginItem      = errors.New("invalid_plugin_invoice_item")
)

// IsLookupFailure reports errors raised when catalog, account or subscription data cannot be read.
func IsLookupFailure(err error) bool {
	return errors.Is(err, ErrCatalogUnavailable) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound)
}
