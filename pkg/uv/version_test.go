package uv

import "testing"

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		release []int
		final   bool
		wantErr bool
	}{
		{in: "1.2.3", release: []int{1, 2, 3}, final: true},
		{in: "v0.5.2", release: []int{0, 5, 2}, final: true},
		{in: "1.2.3rc1", release: []int{1, 2}, final: false},
		{in: "1.2.dev0", release: []int{1, 2}, final: false},
		{in: "2!1.0", release: []int{1, 0}, final: true},
		{in: "1.0+local.1", release: []int{1, 0}, final: true},
		{in: "", wantErr: true},
		{in: "not-a-version", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseVersion(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(v.Release) != len(tt.release) {
				t.Fatalf("release = %v, want %v", v.Release, tt.release)
			}
			for i := range tt.release {
				if v.Release[i] != tt.release[i] {
					t.Fatalf("release = %v, want %v", v.Release, tt.release)
				}
			}
			if v.Final != tt.final {
				t.Errorf("final = %v, want %v", v.Final, tt.final)
			}
		})
	}
}

func TestVersion_Compare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0.0", 0},
		{"0.4.9", "0.5", -1},
		{"10.0", "9.9", 1},
		{"0.5.2", "0.5.2", 0},
	}

	for _, tt := range tests {
		a, _ := ParseVersion(tt.a)
		b, _ := ParseVersion(tt.b)
		if got := a.Compare(b); got != tt.want {
			t.Errorf("Compare(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSpecifierSet_Matches(t *testing.T) {
	tests := []struct {
		spec    string
		version string
		want    bool
	}{
		{">=0.4", "0.5.2", true},
		{">=0.4", "0.3.9", false},
		{">=0.4,<0.6", "0.5.2", true},
		{">=0.4,<0.6", "0.6.0", false},
		{"==1.2.3", "1.2.3", true},
		{"==1.2.3", "1.2.4", false},
		{"==1.2.*", "1.2.9", true},
		{"==1.2.*", "1.3.0", false},
		{"!=1.2.3", "1.2.3", false},
		{"~=1.4.2", "1.4.9", true},
		{"~=1.4.2", "1.5.0", false},
		{"~=1.4.2", "1.4.1", false},
		{"<10", "9.9.9", true},
		{"", "0.0.1", true},
	}

	for _, tt := range tests {
		t.Run(tt.spec+" "+tt.version, func(t *testing.T) {
			set, err := ParseSpecifierSet(tt.spec)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			v, err := ParseVersion(tt.version)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := set.Matches(v); got != tt.want {
				t.Errorf("Matches(%s, %s) = %v, want %v", tt.spec, tt.version, got, tt.want)
			}
		})
	}
}

func TestParseSpecifierSet_Invalid(t *testing.T) {
	for _, spec := range []string{"1.2.3", ">=", "@latest"} {
		if _, err := ParseSpecifierSet(spec); err == nil {
			t.Errorf("ParseSpecifierSet(%q) should fail", spec)
		}
	}
}
