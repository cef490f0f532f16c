/*
	Timelinize
	Copyright (c) 2013 Matthew Holt

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package photocmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/timelinize/photocatalog/catalog"
)

// trapSignals cancels the returned context on the first interrupt, so
// that a running task can stop and record its state. A second interrupt
// exits the process immediately.
func trapSignals(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)

		for i := 0; true; i++ {
			<-sig

			if i > 0 {
				catalog.Log.Fatal("SIGINT: force quit")
			}

			catalog.Log.Warn("SIGINT: stopping; interrupt again to force quit")
			cancel()
		}
	}()

	trapSignalsPosix(cancel)

	return ctx, cancel
}
