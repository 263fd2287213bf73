package bytesize

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSize_Set(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want int64
	}{
		{"1", 1},
		{"1B", 1},
		{"42 KB", 42_000},
		{"1KiB", 1 << 10},
		{"100MiB", 100 << 20},
		{"1.5GB", 1_500_000_000},
		{"2TiB", 2 << 40},
		{"1PB", 1_000_000_000_000_000},
		{"1PiB", 1 << 50},
	} {
		t.Run(tc.in, func(t *testing.T) {
			var s Size
			require.NoError(t, s.Set(tc.in))
			got, err := s.Bytes()
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestSize_Invalid(t *testing.T) {
	var s Size
	require.Error(t, s.Set("lots"))
	require.Error(t, s.Set("12 parsecs"))
}

func TestSize_OutOfRange(t *testing.T) {
	s := MustParse("100000EiB")
	_, err := s.Bytes()
	require.Error(t, err)
	require.Equal(t, 1, s.Big().Sign())
}

func TestSize_Flag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	s := MustParse("100MiB")
	fs.Var(&s, "cache.jar-size", "")
	require.NoError(t, fs.Parse([]string{"-cache.jar-size=1GiB"}))

	n, err := s.Bytes()
	require.NoError(t, err)
	require.Equal(t, int64(1<<30), n)
	require.Equal(t, "1.0 GiB", s.String())
}

func TestSize_YAML(t *testing.T) {
	var cfg struct {
		Size Size `yaml:"size"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("size: 64MiB\n"), &cfg))
	n, err := cfg.Size.Bytes()
	require.NoError(t, err)
	require.Equal(t, int64(64<<20), n)

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	require.Equal(t, "size: 64 MiB\n", string(out))
}

func TestSize_Zero(t *testing.T) {
	var s Size
	n, err := s.Bytes()
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, "0 B", s.String())
}
