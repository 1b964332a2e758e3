package match

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
)

func TestConsoleReporter(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = noColor }()

	var buf bytes.Buffer
	r := NewConsoleReporter(&buf)
	r.Message("checking %s", "storage")
	r.Important("careful")
	r.Error("missing %d", 2)
	r.Success("done")
	r.Command("go-match verify --readonly")

	want := "checking storage\ncareful\nmissing 2\ndone\n$ go-match verify --readonly\n"
	if buf.String() != want {
		t.Errorf("unexpected output:\n%q\nwant:\n%q", buf.String(), want)
	}
}

func TestUserError(t *testing.T) {
	err := error(userErrorf("Couldn't find '%s'", "x"))
	if err.Error() != "Couldn't find 'x'" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !IsUserError(err) {
		t.Error("expected IsUserError")
	}
	if IsUserError(nil) {
		t.Error("nil is not a user error")
	}
}
