package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/holdout/internal/domain/model"
)

func TestKeyFile(t *testing.T) {
	Convey("Given a key file with an admin and a baseline", t, func() {
		path := filepath.Join(t.TempDir(), "keys.json")
		So(os.WriteFile(path, []byte(`{"prof":"k-admin","baseline":"k-base","alice":"k-alice"}`), 0o600), ShouldBeNil)

		k, err := Load(path, WithAdmin("prof"), WithBaseline("baseline"))
		So(err, ShouldBeNil)
		So(k.Users(), ShouldEqual, 3)

		Convey("roles are resolved once per user", func() {
			p, ok := k.Resolve("k-admin")
			So(ok, ShouldBeTrue)
			So(p, ShouldResemble, model.Participant{UserID: "prof", Role: model.RoleAdministrator})

			p, _ = k.Resolve("k-base")
			So(p.Role, ShouldEqual, model.RoleBaseline)

			p, _ = k.Resolve("k-alice")
			So(p.Role, ShouldEqual, model.RoleRegular)
		})

		Convey("unknown keys are invalid", func() {
			So(k.IsValid("k-alice"), ShouldBeTrue)
			So(k.IsValid("nope"), ShouldBeFalse)
			_, ok := k.Resolve("nope")
			So(ok, ShouldBeFalse)
		})
	})

	Convey("Invalid mappings are rejected", t, func() {
		_, err := New(map[string]string{"a": "k", "b": "k"})
		So(errors.Is(err, ErrDuplicateKey), ShouldBeTrue)

		_, err = New(map[string]string{"a": ""})
		So(errors.Is(err, ErrEmptyKey), ShouldBeTrue)

		path := filepath.Join(t.TempDir(), "bad.json")
		So(os.WriteFile(path, []byte(`[1,2]`), 0o600), ShouldBeNil)
		_, err = Load(path)
		So(err, ShouldNotBeNil)
	})
}
