//go:build !unix

package terminal

func (w *pagingWriter) getWindowSize() {
	w.lines = 24
	w.columns = 80
}
