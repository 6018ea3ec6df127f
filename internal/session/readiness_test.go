package session

import "testing"

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier()
	tests := []struct {
		text string
		want Readiness
	}{
		{"да", ReadinessAffirmative},
		{"Да, готов", ReadinessAffirmative},
		{"конечно, давайте", ReadinessAffirmative},
		{"yes, ready", ReadinessAffirmative},
		{"нет", ReadinessNegative},
		{"нет, подождите", ReadinessNegative},
		{"не готов", ReadinessNegative},
		{"да, но подождите минуту", ReadinessNegative},
		{"not ready yet", ReadinessNegative},
		{"wait a second", ReadinessNegative},
		{"расскажу о себе", ReadinessAmbiguous},
		{"", ReadinessAmbiguous},
		{"хм", ReadinessAmbiguous},
	}
	for _, tt := range tests {
		if got := c.Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestLooksLikeReadinessPrompt(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Здравствуйте! Готовы ли вы начать?", true},
		{"Are you ready to start?", true},
		{"Расскажите о себе", false},
		{"Вы готовы к работе в команде", false},
		{"Какой у вас опыт?", false},
	}
	for _, tt := range tests {
		if got := looksLikeReadinessPrompt(tt.text); got != tt.want {
			t.Errorf("looksLikeReadinessPrompt(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
