package walletkit

// Version of the walletd command line and libraries
const Version = "0.1.0"
