package lua

import (
	"fmt"
	"io"

	"github.com/samaelod/pglink/types"
)

func WriteRecording(w io.Writer, rec *types.Recording) error {
	fmt.Fprintln(w, "local recording = {}")
	fmt.Fprintln(w)

	// Header
	fmt.Fprintln(w, "-- HEADER -----------------------------------------")
	fmt.Fprintf(w, "recording.id = %q\n", rec.ID)
	fmt.Fprintf(w, "recording.socket = %q\n", rec.Socket)
	fmt.Fprintf(w, "recording.schema = %q\n", rec.Schema)
	fmt.Fprintf(w, "recording.created = %q\n", rec.Created)
	fmt.Fprintln(w)

	// Commands
	fmt.Fprintln(w, "-- COMMANDS ---------------------------------------")
	fmt.Fprintln(w, "recording.commands = {")
	for _, c := range rec.Commands {
		fmt.Fprintln(w, "\t{")
		fmt.Fprintf(w, "\t\tname = %q,\n", c.Name)
		fmt.Fprintf(w, "\t\tcode = %d,\n", c.Code)
		fmt.Fprintf(w, "\t\tt_delta = %d,\n", c.TDelta)
		fmt.Fprint(w, "\t\tchunks = {")
		for i, chunk := range c.Chunks {
			if i > 0 {
				fmt.Fprint(w, ", ")
			}
			fmt.Fprintf(w, "%q", chunk)
		}
		fmt.Fprintln(w, "},")
		fmt.Fprintln(w, "\t},")
	}
	fmt.Fprintln(w, "}")
	fmt.Fprintln(w)
	_, err := fmt.Fprintln(w, "return recording")

	return err
}
