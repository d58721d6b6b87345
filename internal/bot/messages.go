package bot

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/qs3c/vipgate_server/internal/platform"
)

const (
	msgDefaultWelcome = "👋 Olá! Seja bem-vindo(a)!\n\nEscolha um dos planos abaixo para liberar seu acesso VIP:"
	msgUseStart       = "🤖 Para ver os planos disponíveis, envie /start"
	msgInvalidAction  = "❌ Ação inválida ou expirada. Toque no botão abaixo para recomeçar."
	msgStaleButton    = "⚠️ Este botão está desatualizado. Os planos mudaram, toque abaixo para ver os valores atuais."
	msgSelectionGone  = "⌛ Sua seleção expirou. Escolha o plano novamente."
	msgGatewayMissing = "⚠️ Pagamentos temporariamente indisponíveis para este bot. Tente novamente mais tarde."
	msgGatewayError   = "❌ Não foi possível gerar o PIX: %s"
	msgGenericError   = "❌ Ocorreu um erro. Tente novamente em instantes."
	msgPaymentMissing = "❌ Pagamento não encontrado."
	msgPaymentPending = "⏳ Pagamento ainda não identificado.\n\nAssim que o PIX for pago, toque em \"Verificar pagamento\" novamente."
	msgPaymentFailed  = "❌ Este PIX expirou ou foi cancelado. Gere um novo pagamento."
	msgAlreadyPaid    = "✅ Este pagamento já foi aprovado."
	msgOfferPrice     = "💰 Apenas + R$ %s"
	msgPixCreated     = "✅ PIX gerado com sucesso!\n\n📦 Plano: %s\n💰 Valor: R$ %s\n\n📋 Copie o código abaixo e pague no app do seu banco:\n\n%s\n\nDepois de pagar, toque em \"Verificar pagamento\"."

	btnCheck          = "🔄 Verificar pagamento"
	btnBackToStart    = "🏠 Voltar ao início"
	btnDefaultAccept  = "✅ Sim, quero!"
	btnDefaultDecline = "❌ Não, obrigado"
)

// planButton 套餐按钮文案：<名称> – R$ <价格>
func planButton(name string, price decimal.Decimal) string {
	return fmt.Sprintf("%s – R$ %s", name, price.StringFixed(2))
}

func startKeyboard() platform.Keyboard {
	return platform.Keyboard{{{Text: btnBackToStart, Data: Start{}.Encode()}}}
}

func pendingKeyboard(paymentID int64) platform.Keyboard {
	return platform.Keyboard{
		{{Text: btnCheck, Data: Check{PaymentID: paymentID}.Encode()}},
		{{Text: btnBackToStart, Data: Start{}.Encode()}},
	}
}

func labelOr(label, fallback string) string {
	if label == "" {
		return fallback
	}
	return label
}
