// Package pdf renders payment receipts sent to customers after a successful
// renewal charge.
package pdf

import (
	"fmt"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	marotoconfig "github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type Receipt struct {
	MerchantName  string
	CustomerName  string
	Description   string
	AmountCents   int64
	Currency      string
	Provider      string
	TransactionID int64
	PaidAt        time.Time
}

// BuildReceipt renders a single-page payment receipt.
func BuildReceipt(receipt Receipt) ([]byte, error) {
	cfg := marotoconfig.NewBuilder().
		WithLeftMargin(15).
		WithRightMargin(15).
		WithTopMargin(15).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12, text.NewCol(12, "Payment Receipt", props.Text{
		Size:  16,
		Style: fontstyle.Bold,
		Align: align.Center,
	}))
	m.AddRow(8, text.NewCol(12, receipt.MerchantName, props.Text{
		Size:  11,
		Align: align.Center,
	}))
	m.AddRow(6, text.NewCol(12, "", props.Text{}))

	addLine(m, "Customer", receipt.CustomerName)
	addLine(m, "Description", receipt.Description)
	addLine(m, "Amount", formatAmount(receipt.AmountCents, receipt.Currency))
	addLine(m, "Paid via", receipt.Provider)
	addLine(m, "Paid at", receipt.PaidAt.Format("2006-01-02 15:04 MST"))
	addLine(m, "Reference", fmt.Sprintf("%d", receipt.TransactionID))

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func addLine(m core.Maroto, label, value string) {
	m.AddRow(7,
		text.NewCol(4, label, props.Text{Size: 10, Style: fontstyle.Bold}),
		text.NewCol(8, value, props.Text{Size: 10}),
	)
}

func formatAmount(amountCents int64, currency string) string {
	return fmt.Sprintf("%s %d.%02d", currency, amountCents/100, amountCents%100)
}
