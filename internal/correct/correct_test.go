package correct

import "testing"

func TestApply(t *testing.T) {
	t.Parallel()

	model := DefaultModel()

	cases := []struct {
		name string
		raw  float64
		cpu  float64
		gpu  float64
		want float64
	}{
		{"idle", 10.0, 0, 0, 10.56},
		{"full load", 10.0, 100, 100, 12.433},
		{"mixed load", 10.0, 50, 20, 11.0531},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := model.Apply(tc.raw, tc.cpu, tc.gpu)
			if diff := got - tc.want; diff < -1e-9 || diff > 1e-9 {
				t.Fatalf("expected %.6f, got %.6f", tc.want, got)
			}
		})
	}
}

func TestApplyCustomCoefficients(t *testing.T) {
	t.Parallel()

	model := Model{KCPU: 0.01, KGPU: 0.02, Offset: 0.5}
	got := model.Apply(5.0, 10, 20)
	want := 5.0 + 0.1 + 0.4 + 0.5
	if diff := got - want; diff < -1e-9 || diff > 1e-9 {
		t.Fatalf("expected %.6f, got %.6f", want, got)
	}
}
