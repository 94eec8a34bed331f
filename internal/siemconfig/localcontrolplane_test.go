/*************************************************************************
 * Copyright 2026 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package siemconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalControlPlaneTenantConfig(t *testing.T) {
	cp := NewLocalControlPlane([]string{"t1", "t2"})

	ids, err := cp.TenantIDs()
	require.NoError(t, err)
	require.Equal(t, []string{"t1", "t2"}, ids)

	cfg, err := cp.TenantConfig("t1")
	require.NoError(t, err)
	require.Equal(t, "t1", cfg.TenantID)
	require.Equal(t, 5, cfg.BruteForce.Threshold)

	_, err = cp.TenantConfig("unknown")
	require.Error(t, err)
}

func TestLocalControlPlaneSetBusinessHours(t *testing.T) {
	cp := NewLocalControlPlane([]string{"t1"})
	bh := BusinessHours{Enabled: true, Timezone: "UTC", StartHour: 9, EndHour: 17, Days: []int{1, 2, 3, 4, 5}}
	require.NoError(t, cp.SetBusinessHours("t1", bh))

	cfg, err := cp.TenantConfig("t1")
	require.NoError(t, err)
	require.True(t, cfg.BusinessHours.Enabled)
	require.Equal(t, 9, cfg.BusinessHours.StartHour)

	require.Error(t, cp.SetBusinessHours("unknown", bh))
}

func TestLocalControlPlaneOpenMaintenanceWindow(t *testing.T) {
	cp := NewLocalControlPlane([]string{"t1"})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := MaintenanceWindow{ID: "mw1", Start: now, End: now.Add(2 * time.Hour), AuthorizedIPs: []string{"203.0.113.5"}}
	require.NoError(t, cp.OpenMaintenanceWindow("t1", w))

	cfg, err := cp.TenantConfig("t1")
	require.NoError(t, err)
	require.Len(t, cfg.MaintenanceWindows, 1)
	require.Equal(t, "mw1", cfg.MaintenanceWindows[0].ID)
}

func TestLocalControlPlaneAddTenant(t *testing.T) {
	cp := NewLocalControlPlane(nil)
	cp.AddTenant("t9")
	cp.AddTenant("t9") // idempotent

	ids, err := cp.TenantIDs()
	require.NoError(t, err)
	require.Equal(t, []string{"t9"}, ids)
}
