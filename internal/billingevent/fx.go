package billingevent

import (
	"github.com/smallbiznis/invoicing/internal/invoice/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("billingevent",
	fx.Provide(
		NewSource,
		func(s *Source) domain.BillingEventSource { return s },
		func(s *Source) domain.AccountSource { return s },
	),
)
