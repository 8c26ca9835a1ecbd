package version

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		input string
		want  Firmware
		asInt int
	}{
		{"1.0.0", Firmware{1, 0, 0}, 10000},
		{"1.4.60", Firmware{1, 4, 60}, 10460},
		{"v1.4.41", Firmware{1, 4, 41}, 10441},
		{"1.5.10-rc2", Firmware{1, 5, 10}, 10510},
		{"12.3.7", Firmware{12, 3, 7}, 120307},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.input, err)
			}
			if v != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, v, tt.want)
			}
			if v.Int() != tt.asInt {
				t.Errorf("Int() = %d, want %d", v.Int(), tt.asInt)
			}
			if FromInt(tt.asInt) != tt.want {
				t.Errorf("FromInt(%d) = %+v", tt.asInt, FromInt(tt.asInt))
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"",
		"1",
		"1.0",
		"abc",
		"1.0.0.0",
		"1.x.0",
		"1..0",
		"-1.0.0",
		"1.100.0",
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			if _, err := Parse(input); err == nil {
				t.Errorf("Parse(%q) should return error", input)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.4.41", "1.4.41", 0},
		{"1.4.41", "1.4.40", 1},
		{"1.3.99", "1.4.0", -1},
		{"2.0.0", "1.9.99", 1},
	}
	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			a, b := MustParse(tt.a), MustParse(tt.b)
			if got := a.Compare(b); got != tt.want {
				t.Errorf("Compare = %d, want %d", got, tt.want)
			}
			if a.AtLeast(b) != (tt.want >= 0) {
				t.Errorf("AtLeast mismatch")
			}
		})
	}
}

func TestRange(t *testing.T) {
	r := Range{Min: MustParse("1.4.1"), Max: MustParse("1.5.10")}

	tests := []struct {
		v    string
		want bool
	}{
		{"1.4.0", false},
		{"1.4.1", true},
		{"1.5.9", true},
		{"1.5.10", false},
	}
	for _, tt := range tests {
		if got := r.Contains(MustParse(tt.v)); got != tt.want {
			t.Errorf("Contains(%s) = %v, want %v", tt.v, got, tt.want)
		}
	}

	if !(Range{}).Contains(MustParse("0.0.1")) {
		t.Error("open range should contain everything")
	}
	if got := (Range{Min: MustParse("1.4.1")}).String(); got != "[1.4.1, -)" {
		t.Errorf("String() = %q", got)
	}
}

func TestUnmarshalYAML(t *testing.T) {
	var doc struct {
		A Firmware `yaml:"a"`
		B Firmware `yaml:"b"`
		R Range    `yaml:"r"`
	}
	input := "a: 1.4.60\nb: 10441\nr:\n  min_firmware: 1.3.70\n"
	if err := yaml.Unmarshal([]byte(input), &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc.A != (Firmware{1, 4, 60}) || doc.B != (Firmware{1, 4, 41}) {
		t.Errorf("doc = %+v", doc)
	}
	if doc.R.Min != (Firmware{1, 3, 70}) || !doc.R.Max.IsZero() {
		t.Errorf("range = %+v", doc.R)
	}

	if err := yaml.Unmarshal([]byte("a: nope\n"), &doc); err == nil {
		t.Error("expected error for invalid version")
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustParse should panic")
		}
	}()
	MustParse("bad")
}
