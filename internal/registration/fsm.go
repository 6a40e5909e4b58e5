package registration

import (
	"context"
	"fmt"
	"strings"

	"biosummit.app/concierge/internal/model"
)

// Hint tags the specific validation outcome of a step, so callers can act on
// it without parsing reply text.
type Hint string

const (
	HintNone         Hint = ""
	HintInvalidName  Hint = "invalid_name"
	HintInvalidEmail Hint = "invalid_email"
	HintInvalidCPF   Hint = "invalid_cpf"
	HintDuplicateCPF Hint = "duplicate_cpf"
	HintInvalidPhone Hint = "invalid_phone"
	HintInvalidCity  Hint = "invalid_city"
	HintInvalidState Hint = "invalid_state"
	HintEmptyProfile Hint = "empty_profile"
	HintConfirmRetry Hint = "confirm_retry"
)

// DuplicateChecker answers whether a CPF already has a registration.
type DuplicateChecker interface {
	ExistsByCPF(ctx context.Context, cpf string) (bool, error)
}

// Result is the outcome of one FSM step.
type Result struct {
	Step model.RegistrationStep
	Data model.RegistrationData
	// Reply is the deterministic prompt or confirmation. Empty means the
	// message is not part of the registration flow and general
	// conversation handling owns the reply.
	Reply string
	Hint  Hint
	// Completed is set on the single transition into StepCompleted; the
	// caller owns the persistence and notification side effects.
	Completed bool
}

var intentKeywords = []string{
	"inscrever",
	"inscrição",
	"inscricao",
	"quero participar",
	"como participar",
	"quero ir",
	"fazer inscrição",
	"me inscrever",
	"cadastrar",
	"cadastro",
}

// HasRegistrationIntent reports whether the text expresses intent to
// register for the event.
func HasRegistrationIntent(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range intentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Step advances the registration dialogue by one user message. It is
// deterministic: identical (step, data, input, duplicate-check result)
// always produce identical output. The only error source is the duplicate
// check collaborator; validation failures are resolved here as re-prompts,
// never as errors.
func Step(ctx context.Context, step model.RegistrationStep, data model.RegistrationData, userText string, dup DuplicateChecker) (Result, error) {
	switch step {
	case model.StepIdle:
		if HasRegistrationIntent(userText) {
			return Result{
				Step: model.StepAskingName,
				Data: data,
				Reply: "Perfeito! Vamos fazer sua inscrição no BioSummit 2026.\n" +
					"Para começar, por favor, me informe seu nome completo.",
			}, nil
		}
		return Result{Step: model.StepIdle, Data: data}, nil

	case model.StepAskingName:
		name := strings.TrimSpace(userText)
		if len(strings.Fields(name)) < 2 {
			return Result{
				Step:  step,
				Data:  data,
				Reply: "Por favor, informe seu nome completo (nome e sobrenome) para continuarmos.",
				Hint:  HintInvalidName,
			}, nil
		}
		data.FullName = name
		return Result{
			Step:  model.StepAskingEmail,
			Data:  data,
			Reply: "Agora, por favor, me informe seu e-mail principal.",
		}, nil

	case model.StepAskingEmail:
		email := strings.TrimSpace(userText)
		if !IsValidEmail(email) {
			return Result{
				Step:  step,
				Data:  data,
				Reply: "E-mail inválido. Por favor, informe um e-mail válido (exemplo: seu.nome@email.com).",
				Hint:  HintInvalidEmail,
			}, nil
		}
		data.Email = email
		return Result{
			Step:  model.StepAskingCPF,
			Data:  data,
			Reply: "Ótimo! Agora, por favor, me informe seu CPF (apenas números).",
		}, nil

	case model.StepAskingCPF:
		cpf := NormalizeCPF(userText)
		if cpf == "" {
			return Result{
				Step:  step,
				Data:  data,
				Reply: "CPF inválido. Por favor, informe os 11 dígitos do seu CPF, por exemplo: 123.456.789-10.",
				Hint:  HintInvalidCPF,
			}, nil
		}
		exists, err := dup.ExistsByCPF(ctx, cpf)
		if err != nil {
			return Result{}, fmt.Errorf("checking cpf: %w", err)
		}
		if exists {
			return Result{
				Step:  step,
				Data:  data,
				Reply: "Este CPF já possui uma inscrição no BioSummit 2026. Se acredita que isso é um engano, informe outro CPF ou fale com a organização.",
				Hint:  HintDuplicateCPF,
			}, nil
		}
		data.CPF = cpf
		return Result{
			Step:  model.StepAskingPhone,
			Data:  data,
			Reply: "Agora, por favor, me informe seu telefone com DDD.",
		}, nil

	case model.StepAskingPhone:
		phone := NormalizePhone(userText)
		if phone == "" {
			return Result{
				Step:  step,
				Data:  data,
				Reply: "Não consegui entender seu telefone. Envie no formato com DDD, por exemplo: 41999999999.",
				Hint:  HintInvalidPhone,
			}, nil
		}
		data.Phone = phone
		return Result{
			Step:  model.StepAskingCity,
			Data:  data,
			Reply: "Agora, por favor, me informe sua cidade.",
		}, nil

	case model.StepAskingCity:
		if strings.TrimSpace(userText) == "" {
			return Result{
				Step:  step,
				Data:  data,
				Reply: "Por favor, informe sua cidade para continuarmos.",
				Hint:  HintInvalidCity,
			}, nil
		}
		city, uf := NormalizeCityState(userText)
		if city == "" {
			return Result{
				Step:  step,
				Data:  data,
				Reply: "Não consegui entender sua cidade. Por favor, informe o nome da sua cidade.",
				Hint:  HintInvalidCity,
			}, nil
		}
		data.City = city
		// An inline UF ("Londrina/PR") skips the state step.
		if uf != "" {
			data.State = uf
			return Result{
				Step:  model.StepAskingProfile,
				Data:  data,
				Reply: profilePrompt,
			}, nil
		}
		return Result{
			Step:  model.StepAskingState,
			Data:  data,
			Reply: "Agora, por favor, me informe seu estado (UF).",
		}, nil

	case model.StepAskingState:
		uf := LookupUF(userText)
		if uf == "" {
			return Result{
				Step:  step,
				Data:  data,
				Reply: "Não consegui entender seu estado. Por favor, informe a sigla do estado (UF), por exemplo: PR, SP, MG.",
				Hint:  HintInvalidState,
			}, nil
		}
		data.State = uf
		return Result{
			Step:  model.StepAskingProfile,
			Data:  data,
			Reply: profilePrompt,
		}, nil

	case model.StepAskingProfile:
		if strings.TrimSpace(userText) == "" {
			return Result{
				Step:  step,
				Data:  data,
				Reply: "Por favor, informe seu perfil para continuarmos.",
				Hint:  HintEmptyProfile,
			}, nil
		}
		data.Profile = NormalizeProfile(userText)
		return Result{
			Step:  model.StepConfirming,
			Data:  data,
			Reply: summary(data),
		}, nil

	case model.StepConfirming:
		answer := strings.ToLower(strings.TrimSpace(userText))
		switch {
		case strings.HasPrefix(answer, "sim"):
			return Result{
				Step: model.StepCompleted,
				Data: data,
				Reply: "Sua inscrição foi registrada com sucesso! 🎟️\n" +
					"Você receberá um e-mail de confirmação em breve.\n" +
					"Se precisar de mais alguma coisa sobre o BioSummit 2026, é só me chamar.",
				Completed: true,
			}, nil
		case strings.HasPrefix(answer, "não"), strings.HasPrefix(answer, "nao"):
			// Negative answer restarts the whole flow with cleared data.
			return Result{
				Step: model.StepAskingName,
				Data: model.RegistrationData{},
				Reply: "Sem problemas! Vamos começar novamente.\n" +
					"Por favor, me informe seu nome completo.",
			}, nil
		default:
			return Result{
				Step:  step,
				Data:  data,
				Reply: "Por favor, responda apenas 'sim' para confirmar ou 'não' para reiniciar o cadastro.",
				Hint:  HintConfirmRetry,
			}, nil
		}

	case model.StepCompleted:
		// Falls through to general conversation; data is kept for audit.
		return Result{Step: model.StepCompleted, Data: data}, nil
	}

	return Result{Step: step, Data: data}, nil
}

const profilePrompt = "Por último, qual é o seu perfil?\n" +
	"(Exemplos: Produtor rural, Pesquisador(a), Empresa/Expositor, Estudante, etc.)"

func summary(data model.RegistrationData) string {
	orDash := func(s string) string {
		if s == "" {
			return "Não informado"
		}
		return s
	}
	return fmt.Sprintf(`Confira seus dados:

Nome: %s
E-mail: %s
CPF: %s
Telefone: %s
Cidade/UF: %s/%s
Perfil: %s

Está tudo correto? Responda 'sim' para confirmar ou 'não' para reiniciar o cadastro.`,
		data.FullName,
		data.Email,
		data.CPF,
		orDash(data.Phone),
		orDash(data.City),
		orDash(data.State),
		orDash(data.Profile),
	)
}
