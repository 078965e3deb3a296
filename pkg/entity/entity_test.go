package entity

import "testing"

func TestMakeEntityID(t *testing.T) {
	tests := []struct {
		name      string
		platform  string
		serverID  string
		channelID string
		want      string
	}{
		{"twitch drops channel", "twitch", "shadowdemon", "ignored", "twitch+shadowdemon"},
		{"twitch no channel", "twitch", "shadowdemon", "", "twitch+shadowdemon"},
		{"discord with channel", "discord", "123", "456", "discord+123+456"},
		{"discord without channel", "discord", "123", "", "discord+123"},
		{"slack with channel", "slack", "T01", "C02", "slack+T01+C02"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MakeEntityID(tt.platform, tt.serverID, tt.channelID); got != tt.want {
				t.Errorf("MakeEntityID(%q, %q, %q) = %q, want %q",
					tt.platform, tt.serverID, tt.channelID, got, tt.want)
			}
		})
	}
}
