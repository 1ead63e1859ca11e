package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEscalation(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    []EscalationStep
		wantErr bool
	}{
		{
			name: "standard ladder",
			spec: "1:0s,2:10m,3:24h,4:permanent",
			want: []EscalationStep{
				{Strikes: 1},
				{Strikes: 2, Ban: 10 * time.Minute},
				{Strikes: 3, Ban: 24 * time.Hour},
				{Strikes: 4, Permanent: true},
			},
		},
		{
			name: "single permanent step",
			spec: "1:permanent",
			want: []EscalationStep{{Strikes: 1, Permanent: true}},
		},
		{
			name: "empty spec falls back to default",
			spec: "",
			want: DefaultEscalation(),
		},
		{
			name: "whitespace tolerated",
			spec: " 1:0s , 2:5m ",
			want: []EscalationStep{{Strikes: 1}, {Strikes: 2, Ban: 5 * time.Minute}},
		},
		{name: "non-increasing strikes", spec: "2:10m,2:20m", wantErr: true},
		{name: "decreasing bans", spec: "1:1h,2:10m", wantErr: true},
		{name: "zero strike count", spec: "0:10m", wantErr: true},
		{name: "missing duration", spec: "1", wantErr: true},
		{name: "bad duration", spec: "1:soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEscalation(tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadRequiresSessionSecret(t *testing.T) {
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CHAT_SESSION_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 2*time.Second, cfg.AccountCooldown)
	assert.Equal(t, 5*time.Second, cfg.GuestCooldown)
	assert.Equal(t, time.Minute, cfg.EditWindow)
	assert.Equal(t, 300, cfg.HistoryLimit)
	assert.Equal(t, DefaultEscalation(), cfg.Escalation)
	assert.Empty(t, cfg.FilterTerms)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CHAT_SESSION_SECRET", "test-secret")
	t.Setenv("CHAT_ACCOUNT_COOLDOWN", "10s")
	t.Setenv("CHAT_FILTER_TERMS", "badword, worse phrase ,")
	t.Setenv("CHAT_ESCALATION", "1:permanent")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.AccountCooldown)
	assert.Equal(t, []string{"badword", "worse phrase"}, cfg.FilterTerms)
	assert.Equal(t, []EscalationStep{{Strikes: 1, Permanent: true}}, cfg.Escalation)
}
