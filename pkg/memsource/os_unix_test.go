//go:build unix

package memsource_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/ctxalloc/ctxalloc/pkg/memsource"
)

func TestOSSource(t *testing.T) {
	Convey("Given an OS-backed memory source", t, func() {
		src, err := memsource.NewOSSource(8192)
		So(err, ShouldBeNil)
		defer src.Close()

		Convey("Its size is rounded up to a whole page", func() {
			So(src.Size()%4096, ShouldEqual, 0)
			So(src.Size(), ShouldBeGreaterThanOrEqualTo, uintptr(8192))
		})

		Convey("Its region is readable and writable", func() {
			from, to := memsource.Range(src)
			p := from.AssertValid()
			*p = 0xAB
			So(*p, ShouldEqual, byte(0xAB))
			So(to.ByteSub(from), ShouldEqual, int(src.Size()))
		})

		Convey("Closing releases the mapping", func() {
			So(src.Close(), ShouldBeNil)
			So(src.Close(), ShouldBeNil) // idempotent
		})
	})
}

func TestOSSourceRejectsZero(t *testing.T) {
	_, err := memsource.NewOSSource(0)
	if err == nil {
		t.Fatal("expected an error for a zero-sized source")
	}
}
