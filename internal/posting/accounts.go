package posting

import (
	"context"
	"fmt"

	"github.com/meridian-erp/meridian-erp/internal/refdata"
)

// AccountCodes names the control accounts the posting engine needs.
type AccountCodes struct {
	Payable    string
	Receivable string
	TaxInput   string
	TaxOutput  string
}

// AccountSet holds the resolved control account ids. It is loaded once at
// startup so posting never fails midway on a missing control account.
type AccountSet struct {
	PayableID    int64
	ReceivableID int64
	TaxInputID   int64
	TaxOutputID  int64
}

// LoadAccountSet resolves the configured codes against the chart of accounts.
func LoadAccountSet(ctx context.Context, repo *refdata.Repository, codes AccountCodes) (AccountSet, error) {
	var set AccountSet
	for _, item := range []struct {
		code string
		dst  *int64
	}{
		{codes.Payable, &set.PayableID},
		{codes.Receivable, &set.ReceivableID},
		{codes.TaxInput, &set.TaxInputID},
		{codes.TaxOutput, &set.TaxOutputID},
	} {
		account, err := repo.GetAccountByCode(ctx, item.code)
		if err != nil {
			return AccountSet{}, fmt.Errorf("control account %q: %w", item.code, err)
		}
		*item.dst = account.ID
	}
	return set, nil
}
