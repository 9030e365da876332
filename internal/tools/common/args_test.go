package common

import "testing"

func TestStringArg(t *testing.T) {
	args := map[string]interface{}{"mailbox": "Archive", "empty": ""}

	if got := StringArg(args, "mailbox", "INBOX"); got != "Archive" {
		t.Errorf("StringArg() = %q, want Archive", got)
	}
	if got := StringArg(args, "empty", "INBOX"); got != "INBOX" {
		t.Errorf("StringArg() empty = %q, want fallback", got)
	}
	if got := StringArg(args, "missing", "INBOX"); got != "INBOX" {
		t.Errorf("StringArg() missing = %q, want fallback", got)
	}
}

func TestRequiredString(t *testing.T) {
	args := map[string]interface{}{"query": "invoice", "empty": ""}

	if got, err := RequiredString(args, "query"); err != nil || got != "invoice" {
		t.Errorf("RequiredString() = %q, %v", got, err)
	}
	if _, err := RequiredString(args, "empty"); err == nil {
		t.Error("RequiredString() empty should fail")
	}
	if _, err := RequiredString(args, "missing"); err == nil {
		t.Error("RequiredString() missing should fail")
	}
}

func TestIntArg(t *testing.T) {
	args := map[string]interface{}{"limit": float64(25)}

	if got := IntArg(args, "limit", 20); got != 25 {
		t.Errorf("IntArg() = %d, want 25", got)
	}
	if got := IntArg(args, "missing", 20); got != 20 {
		t.Errorf("IntArg() missing = %d, want 20", got)
	}
}

func TestBoolArg(t *testing.T) {
	args := map[string]interface{}{"unseen_only": true}

	if !BoolArg(args, "unseen_only", false) {
		t.Error("BoolArg() = false, want true")
	}
	if BoolArg(args, "missing", false) {
		t.Error("BoolArg() missing = true, want fallback")
	}
}

func TestUIDArg(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		want    uint32
		wantErr bool
	}{
		{name: "number", value: float64(42), want: 42},
		{name: "numeric string", value: "17", want: 17},
		{name: "zero", value: float64(0), wantErr: true},
		{name: "negative", value: float64(-3), wantErr: true},
		{name: "non-numeric string", value: "abc", wantErr: true},
		{name: "missing", value: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := map[string]interface{}{}
			if tt.value != nil {
				args["uid"] = tt.value
			}
			got, err := UIDArg(args, "uid")
			if (err != nil) != tt.wantErr {
				t.Fatalf("UIDArg() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("UIDArg() = %d, want %d", got, tt.want)
			}
		})
	}
}
