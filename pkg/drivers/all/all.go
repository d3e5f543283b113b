// Import this package to enable every driver backend
package all

import (
	_ "github.com/ecatforge/ecatd/pkg/drivers/loopback"
	_ "github.com/ecatforge/ecatd/pkg/drivers/stub"
)
