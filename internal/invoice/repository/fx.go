package repository

import (
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"github.com/smallbiznis/invoicing/internal/notificationq"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.repository",
	fx.Provide(
		func(s *notificationq.Store) NotificationRecorder { return s },
		NewInvoiceDao,
		func(r *InvoiceDao) domain.InvoiceDao { return r },
	),
)
