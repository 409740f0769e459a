package database

import "testing"

func TestDBNameFromURI(t *testing.T) {
	tests := []struct {
		uri, want string
	}{
		{"mongodb://localhost:27017", defaultDBName},
		{"mongodb://localhost:27017/", defaultDBName},
		{"mongodb://localhost:27017/fleet", "fleet"},
		{"mongodb+srv://u:p@cluster.example.net/prod?retryWrites=true", "prod"},
		{"mongodb+srv://u:p@cluster.example.net/?tls=true", defaultDBName},
	}
	for _, tt := range tests {
		if got := dbNameFromURI(tt.uri); got != tt.want {
			t.Errorf("dbNameFromURI(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}
