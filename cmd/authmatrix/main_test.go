package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/authmatrix/internal/app"
	apptesting "github.com/odyssey-erp/authmatrix/testing"
)

func TestMainReturnsInTestMode(t *testing.T) {
	apptesting.Enable()
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	main()
}
