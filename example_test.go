package gobuffet_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/sebdeveloper6952/gobuffet"
	"github.com/sebdeveloper6952/gobuffet/domain"
	"github.com/sebdeveloper6952/gobuffet/internal/fake"
	"github.com/sebdeveloper6952/gobuffet/store/memory"
)

// echoService always returns the same image URL as result.
type echoService struct{}

func (echoService) Name() string { return "echo" }

func (echoService) Price(context.Context, json.RawMessage) (int64, error) {
	return 21000, nil
}

func (echoService) Validate(context.Context, json.RawMessage) error { return nil }

func (echoService) Step(context.Context, domain.StepInput) domain.Outcome {
	return domain.Done{Payload: json.RawMessage(`{"url":"https://example.com/cat.png"}`)}
}

func Example() {
	ctx := context.Background()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	gateway := fake.NewGateway()
	reg := gobuffet.NewRegistry()
	if err := reg.Register(echoService{}); err != nil {
		panic(err)
	}

	engine, err := gobuffet.NewEngine(memory.New(), gateway, reg,
		gobuffet.WithLogger(logger),
		gobuffet.WithPublicURL("https://buffet.example"),
	)
	if err != nil {
		panic(err)
	}

	invoice, err := engine.RequestInvoice(ctx, gobuffet.InvoiceRequest{Service: "echo"})
	if err != nil {
		panic(err)
	}

	res, _ := engine.PollResult(ctx, invoice.PaymentHash)
	fmt.Println(res.Kind)

	gateway.Settle(invoice.PaymentHash)

	res, _ = engine.PollResult(ctx, invoice.PaymentHash)
	fmt.Println(res.Kind, string(res.Payload))

	// Output:
	// payment-pending
	// completed {"url":"https://example.com/cat.png"}
}
