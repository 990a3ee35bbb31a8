package storage

import (
	"testing"

	"github.com/FooledKiwi/carepath/internal/geo"
)

func TestParsePointWKT(t *testing.T) {
	cases := []struct {
		name    string
		wkt     string
		want    geo.Point
		wantErr bool
	}{
		{name: "shimla", wkt: "POINT(77.1734 31.1048)", want: geo.Point{Lat: 31.1048, Lon: 77.1734}},
		{name: "padded", wkt: "  POINT(-77.0428 -12.0464) ", want: geo.Point{Lat: -12.0464, Lon: -77.0428}},
		{name: "linestring", wkt: "LINESTRING(0 0, 1 1)", wantErr: true},
		{name: "three coords", wkt: "POINT(1 2 3)", wantErr: true},
		{name: "not a number", wkt: "POINT(abc 2)", wantErr: true},
		{name: "out of range", wkt: "POINT(10 95)", wantErr: true},
		{name: "empty", wkt: "", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parsePointWKT(tc.wkt)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPgtext(t *testing.T) {
	if v := pgtext(""); v.Valid {
		t.Error("empty string should map to NULL")
	}
	if v := pgtext("+91 177"); !v.Valid || v.String != "+91 177" {
		t.Errorf("pgtext = %+v", v)
	}
}
