package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMaxContentLength — предел длины ответа внешней платформы в символах.
const DefaultMaxContentLength = 10000

// Thresholds задаёт пороги оценки релевантности (0–10).
type Thresholds struct {
	PublishEligibility float64 `yaml:"publish_eligibility"`
	Recommend          float64 `yaml:"recommend"`
}

// Account описывает аккаунт, от имени которого публикуются ответы.
type Account struct {
	ID          string    `yaml:"id"`
	BotToken    string    `yaml:"bot_token"`
	BotTokenEnv string    `yaml:"bot_token_env"`
	WarmupUntil time.Time `yaml:"warmup_until"`
	Suspended   bool      `yaml:"suspended"`
	DailyLimit  int       `yaml:"daily_limit"`
}

// Token возвращает токен бота, учитывая ссылку на переменную окружения.
func (a Account) Token() string {
	if a.BotToken != "" {
		return a.BotToken
	}
	if a.BotTokenEnv != "" {
		return os.Getenv(a.BotTokenEnv)
	}
	return ""
}

// Policy — бизнес-правила модерации из YAML-файла.
type Policy struct {
	Thresholds       Thresholds `yaml:"thresholds"`
	MaxContentLength int        `yaml:"max_content_length"`
	Accounts         []Account  `yaml:"accounts"`
}

// DefaultPolicy возвращает правила по умолчанию.
func DefaultPolicy() Policy {
	return Policy{
		Thresholds:       Thresholds{PublishEligibility: 6, Recommend: 7},
		MaxContentLength: DefaultMaxContentLength,
	}
}

// LoadPolicy читает файл правил. Отсутствующий файл даёт правила по умолчанию.
func LoadPolicy(path string) (Policy, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultPolicy(), nil
	}
	if err != nil {
		return Policy{}, fmt.Errorf("чтение файла правил: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy разбирает YAML и проверяет правила.
func ParsePolicy(data []byte) (Policy, error) {
	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("разбор файла правил: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// Validate проверяет согласованность правил.
func (p Policy) Validate() error {
	if p.Thresholds.PublishEligibility < 0 || p.Thresholds.PublishEligibility > 10 {
		return fmt.Errorf("thresholds.publish_eligibility must be within 0..10")
	}
	if p.Thresholds.Recommend < 0 || p.Thresholds.Recommend > 10 {
		return fmt.Errorf("thresholds.recommend must be within 0..10")
	}
	if p.MaxContentLength <= 0 {
		return fmt.Errorf("max_content_length must be positive")
	}
	seen := make(map[string]struct{}, len(p.Accounts))
	for i, acct := range p.Accounts {
		if strings.TrimSpace(acct.ID) == "" {
			return fmt.Errorf("accounts[%d]: id is required", i)
		}
		if _, ok := seen[acct.ID]; ok {
			return fmt.Errorf("accounts[%d]: duplicate id %q", i, acct.ID)
		}
		seen[acct.ID] = struct{}{}
		if acct.DailyLimit < 0 {
			return fmt.Errorf("accounts[%d]: daily_limit must not be negative", i)
		}
	}
	return nil
}

// Account ищет аккаунт по идентификатору.
func (p Policy) Account(id string) (Account, bool) {
	for _, acct := range p.Accounts {
		if acct.ID == id {
			return acct, true
		}
	}
	return Account{}, false
}
