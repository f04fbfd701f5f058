package pjbank

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"rentpay/internal/common/money"
	"rentpay/internal/payments"
)

type webhookPayload struct {
	Tipo                    string       `json:"tipo"`
	IDUnico                 string       `json:"id_unico"`
	PedidoNumero            string       `json:"pedido_numero"`
	Valor                   *money.Money `json:"valor"`
	ValorPago               *money.Money `json:"valor_pago"`
	DataVencimento          string       `json:"data_vencimento"`
	DataPagamento           string       `json:"data_pagamento"`
	RegistroSistemaBancario string       `json:"registro_sistema_bancario"`
}

// providerStatusPaid is reported when data_pagamento is present.
const providerStatusPaid = "pago"

var registroMap = map[string]payments.Status{
	"":           payments.StatusPending,
	"pendente":   payments.StatusPending,
	"confirmado": payments.StatusPending,
	"vencido":    payments.StatusOverdue,
	"baixado":    payments.StatusCancelled,
	"cancelado":  payments.StatusCancelled,
	"rejeitado":  payments.StatusCancelled,
}

// ParseWebhook maps a PJBank boleto notification to a WebhookEvent. PJBank
// sends no event timestamp, so OccurredAt is left for the receiver to set.
func (p *Provider) ParseWebhook(raw []byte) (payments.WebhookEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payments.WebhookEvent{}, fmt.Errorf("%w: %v", payments.ErrMalformedWebhook, err)
	}
	if payload.IDUnico == "" && payload.PedidoNumero == "" {
		return payments.WebhookEvent{}, fmt.Errorf("%w: missing id_unico and pedido_numero", payments.ErrMalformedWebhook)
	}

	evt := payments.WebhookEvent{
		Gateway:           payments.GatewayPJBank,
		GatewayPaymentID:  payload.IDUnico,
		ExternalReference: payload.PedidoNumero,
	}

	if payload.DataPagamento != "" {
		paid, err := time.Parse(dateLayout, payload.DataPagamento)
		if err != nil {
			return payments.WebhookEvent{}, fmt.Errorf("%w: data_pagamento %q", payments.ErrMalformedWebhook, payload.DataPagamento)
		}
		evt.Status = payments.StatusPaid
		evt.ProviderStatus = providerStatusPaid
		evt.PaidDate = &paid
		evt.PaidAmount = payload.ValorPago
		return evt, nil
	}

	registro := strings.ToLower(strings.TrimSpace(payload.RegistroSistemaBancario))
	status, ok := registroMap[registro]
	if !ok {
		p.logger.Warn("unknown pjbank registration status, treating as pending",
			"registro_sistema_bancario", payload.RegistroSistemaBancario,
			"id_unico", payload.IDUnico,
		)
		status = payments.StatusPending
	}
	evt.Status = status
	evt.ProviderStatus = payload.RegistroSistemaBancario
	return evt, nil
}
