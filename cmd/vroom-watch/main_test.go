package main

import "testing"

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{
			`{"type":"slider_changed","data":{"slider":"brightness","value":15,"percent":48}}`,
			`[SLIDER] brightness=15 (48%)`,
		},
		{
			`{"type":"popup_shown","data":{"id":3,"text":"Brightness"}}`,
			`[POPUP] #3 "Brightness" shown`,
		},
		{
			`{"type":"popup_dismissed","data":{"id":3,"text":"Brightness"}}`,
			`[POPUP] #3 "Brightness" dismissed`,
		},
		{`{"type":"mode_changed","data":{"mode":"Volume"}}`, `[MODE] Volume`},
		{`{"type":"sink_selected","data":{"sink":"hdmi"}}`, `[SINK] hdmi`},
		{`{"type":"external_app_changed","data":{"running":false}}`, `[NAV] stopped`},
		{
			`{"type":"state_init","data":{"mode":"Volume","volume_percent":40,"volume_known":true,"brightness_raw":31,"brightness_percent":100,"current_sink":"hdmi"}}`,
			`[STATE_INIT] mode=Volume settings=false volume=40% brightness=31 (100%) sink="hdmi" nav=false`,
		},
		{
			`{"type":"settings_closed","data":{"mode":"Volume"}}`,
			`[SETTINGS_CLOSED] mode=Volume settings=false volume=? brightness=0 (0%) sink="" nav=false`,
		},
		{`{"type":"future_event","data":{"x":1}}`, `[FUTURE_EVENT] {"x":1}`},
		{`not json`, `[TEXT] not json`},
	}
	for _, tt := range tests {
		if got := formatEvent([]byte(tt.in)); got != tt.want {
			t.Errorf("formatEvent(%s)\n got  %s\n want %s", tt.in, got, tt.want)
		}
	}
}
